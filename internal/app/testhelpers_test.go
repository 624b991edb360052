package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memberly/access-service/internal/domain"
	"github.com/memberly/access-service/internal/store"
	"github.com/memberly/access-service/pkg/stripeclient"
	"github.com/memberly/access-service/pkg/userclient"
)

const testNow = int64(1700000000)

// fakeRepo is an in-memory Repository keyed by external session id.
type fakeRepo struct {
	mu            sync.Mutex
	bySession     map[string]*domain.PurchaseRecord
	customerIndex map[string]string
	creates       int
	updates       int
	failUpdate    error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		bySession:     make(map[string]*domain.PurchaseRecord),
		customerIndex: make(map[string]string),
	}
}

func cloneRecord(r *domain.PurchaseRecord) *domain.PurchaseRecord {
	out := *r
	out.LineItems = append([]domain.LineItem(nil), r.LineItems...)
	out.ProductIDs = append([]string(nil), r.ProductIDs...)
	out.AccessStates = r.AccessStates.Clone()
	out.Renewals = r.Renewals.Clone()
	return &out
}

func (f *fakeRepo) seed(records ...*domain.PurchaseRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.bySession[r.ExternalSessionID] = cloneRecord(r)
		if r.ExternalCustomerID != "" {
			f.customerIndex[r.ExternalCustomerID] = r.UserID
		}
	}
}

func (f *fakeRepo) get(sessionID string) *domain.PurchaseRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.bySession[sessionID]; ok {
		return cloneRecord(r)
	}
	return nil
}

func (f *fakeRepo) GetPurchaseBySessionID(ctx context.Context, sessionID string) (*domain.PurchaseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.bySession[sessionID]
	if !ok {
		return nil, store.ErrPurchaseNotFound
	}
	return cloneRecord(r), nil
}

func (f *fakeRepo) ListPurchasesByUser(ctx context.Context, userID string) ([]*domain.PurchaseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.PurchaseRecord
	for _, r := range f.bySession {
		if r.UserID == userID {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

func (f *fakeRepo) ListPurchasesBySubscriptionID(ctx context.Context, subscriptionID string) ([]*domain.PurchaseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.PurchaseRecord
	for _, r := range f.bySession {
		if r.SubscriptionID == subscriptionID {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

func (f *fakeRepo) ListPurchasesWithScope(ctx context.Context, scope domain.ScopeKey) ([]*domain.PurchaseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.PurchaseRecord
	for _, r := range f.bySession {
		if _, ok := r.AccessStates[scope]; ok {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

func (f *fakeRepo) CreatePurchase(ctx context.Context, purchase *domain.PurchaseRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bySession[purchase.ExternalSessionID]; ok {
		return store.ErrDuplicateSession
	}
	f.bySession[purchase.ExternalSessionID] = cloneRecord(purchase)
	if purchase.ExternalCustomerID != "" {
		f.customerIndex[purchase.ExternalCustomerID] = purchase.UserID
	}
	f.creates++
	return nil
}

func (f *fakeRepo) UpdatePurchaseState(ctx context.Context, id uuid.UUID, productIDs []string, states domain.AccessStateMap, renewals domain.RenewalMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate != nil {
		return f.failUpdate
	}
	for _, r := range f.bySession {
		if r.ID == id {
			r.ProductIDs = append([]string(nil), productIDs...)
			r.AccessStates = states.Clone()
			r.Renewals = renewals.Clone()
			f.updates++
			return nil
		}
	}
	return store.ErrPurchaseNotFound
}

func (f *fakeRepo) FindUserIDByCustomerID(ctx context.Context, customerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if userID, ok := f.customerIndex[customerID]; ok {
		return userID, nil
	}
	return "", store.ErrCustomerNotIndexed
}

// fakeCatalog serves a fixed mapping snapshot.
type fakeCatalog struct {
	snapshot map[string]int
	err      error
}

func (f *fakeCatalog) Snapshot(ctx context.Context) (CatalogSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

// fakeProvider serves canned sessions, subscriptions, invoices, and listing
// pages.
type fakeProvider struct {
	sessions    map[string]*stripeclient.CheckoutSession
	subs        map[string]*stripeclient.Subscription
	invoices    map[string][]stripeclient.Invoice
	invoicesErr error
	pages       []stripeclient.SessionList
	listCalls   int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		sessions: make(map[string]*stripeclient.CheckoutSession),
		subs:     make(map[string]*stripeclient.Subscription),
		invoices: make(map[string][]stripeclient.Invoice),
	}
}

func (f *fakeProvider) FetchSession(ctx context.Context, id string) (*stripeclient.CheckoutSession, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, &stripeclient.APIError{StatusCode: 404, Message: "no such session"}
	}
	return sess, nil
}

func (f *fakeProvider) ListSessions(ctx context.Context, params stripeclient.ListSessionsParams) (*stripeclient.SessionList, error) {
	if f.listCalls >= len(f.pages) {
		return &stripeclient.SessionList{}, nil
	}
	page := f.pages[f.listCalls]
	f.listCalls++
	return &page, nil
}

func (f *fakeProvider) FetchSubscription(ctx context.Context, id string) (*stripeclient.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, &stripeclient.APIError{StatusCode: 404, Message: "no such subscription"}
	}
	return sub, nil
}

func (f *fakeProvider) ListInvoices(ctx context.Context, subscriptionID string) ([]stripeclient.Invoice, error) {
	if f.invoicesErr != nil {
		return nil, f.invoicesErr
	}
	return f.invoices[subscriptionID], nil
}

// fakeDirectory resolves and creates users in memory.
type fakeDirectory struct {
	byEmail map[string]*userclient.User
	created []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{byEmail: make(map[string]*userclient.User)}
}

func (f *fakeDirectory) FindByEmail(ctx context.Context, email string) (*userclient.User, error) {
	return f.byEmail[email], nil
}

func (f *fakeDirectory) CreateUser(ctx context.Context, email, name string) (*userclient.User, error) {
	user := &userclient.User{ID: "user-" + email, Email: email, Name: name}
	f.byEmail[email] = user
	f.created = append(f.created, email)
	return user, nil
}

// fakePublisher records notifications instead of publishing them.
type fakePublisher struct {
	mu          sync.Mutex
	routingKeys []string
}

func (f *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routingKeys = append(f.routingKeys, routingKey)
	return nil
}

func (f *fakePublisher) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.routingKeys...)
}

type testEnv struct {
	service   *Service
	repo      *fakeRepo
	provider  *fakeProvider
	directory *fakeDirectory
	publisher *fakePublisher
}

func newTestEnv(catalog map[string]int) *testEnv {
	repo := newFakeRepo()
	provider := newFakeProvider()
	directory := newFakeDirectory()
	publisher := &fakePublisher{}
	service := NewService(repo, &fakeCatalog{snapshot: catalog}, provider, directory, publisher, "https://members.example.com")
	service.now = func() time.Time { return time.Unix(testNow, 0) }
	return &testEnv{
		service:   service,
		repo:      repo,
		provider:  provider,
		directory: directory,
		publisher: publisher,
	}
}

func recurringLine(productID string, amount int64) stripeclient.SessionLineItem {
	return stripeclient.SessionLineItem{
		Description: "Sub " + productID,
		Quantity:    1,
		Price: stripeclient.Price{
			Product:    stripeclient.ExpandableID{ID: productID},
			Type:       "recurring",
			UnitAmount: amount,
			Currency:   "eur",
		},
	}
}

func oneTimeLine(productID string, amount int64) stripeclient.SessionLineItem {
	return stripeclient.SessionLineItem{
		Description: "Item " + productID,
		Quantity:    1,
		Price: stripeclient.Price{
			Product:    stripeclient.ExpandableID{ID: productID},
			Type:       "one_time",
			UnitAmount: amount,
			Currency:   "eur",
		},
	}
}

func completedSession(id, email string, lines ...stripeclient.SessionLineItem) *stripeclient.CheckoutSession {
	return &stripeclient.CheckoutSession{
		ID:              id,
		Status:          "complete",
		PaymentStatus:   "paid",
		Created:         testNow - 3600,
		Customer:        stripeclient.ExpandableID{ID: "cus_" + id},
		CustomerDetails: stripeclient.CustomerDetails{Email: email, Name: "Test Buyer"},
		LineItems:       &stripeclient.LineItemList{Data: lines},
	}
}

func withSubscription(sess *stripeclient.CheckoutSession, sub *stripeclient.Subscription) *stripeclient.CheckoutSession {
	sess.Subscription = stripeclient.ExpandableSubscription{ID: sub.ID, Object: sub}
	return sess
}

func activeSubscription(id string, periodEnd int64) *stripeclient.Subscription {
	return &stripeclient.Subscription{
		ID:               id,
		Status:           "active",
		CurrentPeriodEnd: periodEnd,
	}
}
