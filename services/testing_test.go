package services_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/daylog-io/authd/cache"
	"github.com/daylog-io/authd/domain"
	"github.com/daylog-io/authd/internal/federation"
	"github.com/daylog-io/authd/services"
	"github.com/daylog-io/authd/token"
)

var (
	testAccessKey  = []byte("unit-test-access-key-0123456789abcd")
	testRefreshKey = []byte("unit-test-refresh-key-0123456789abc")
)

func newSessionService(store cache.RefreshTokenStore) *services.SessionService {
	codec := token.NewCodec(testAccessKey, testRefreshKey)
	return services.NewSessionService(codec, store, time.Minute, time.Hour, time.Second)
}

// memoryPrincipals is an in-memory domain.PrincipalRepository.
type memoryPrincipals struct {
	mu   sync.Mutex
	byID map[string]*domain.Principal
}

func newMemoryPrincipals(seed ...*domain.Principal) *memoryPrincipals {
	r := &memoryPrincipals{byID: make(map[string]*domain.Principal)}
	for _, p := range seed {
		cp := *p
		r.byID[p.ID] = &cp
	}
	return r
}

func (r *memoryPrincipals) Create(_ context.Context, p *domain.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Handle == p.Handle || (p.Email != "" && existing.Email == p.Email) {
			return domain.ErrDuplicate
		}
	}
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *memoryPrincipals) GetByID(_ context.Context, id string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryPrincipals) GetByHandle(_ context.Context, handle string) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byID {
		if p.Handle == handle {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryPrincipals) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.LastLoginAt = &at
	return nil
}

func (r *memoryPrincipals) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// memoryIdentities is an in-memory domain.LinkedIdentityRepository.
type memoryIdentities struct {
	mu    sync.Mutex
	links []*domain.LinkedIdentity
}

func (r *memoryIdentities) Create(_ context.Context, li *domain.LinkedIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.Provider == li.Provider && l.ExternalSubjectID == li.ExternalSubjectID {
			return domain.ErrDuplicate
		}
	}
	cp := *li
	r.links = append(r.links, &cp)
	return nil
}

func (r *memoryIdentities) GetByProviderSubject(_ context.Context, provider, externalSubjectID string) (*domain.LinkedIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.Provider == provider && l.ExternalSubjectID == externalSubjectID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryIdentities) UpdateEmail(_ context.Context, id, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.ID == id {
			l.ExternalEmail = email
			return nil
		}
	}
	return domain.ErrNotFound
}

// recordingStore counts store calls so tests can assert the store was never
// touched on early failures.
type recordingStore struct {
	cache.RefreshTokenStore
	mu    sync.Mutex
	calls int
}

func (r *recordingStore) bump() {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
}

func (r *recordingStore) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *recordingStore) Get(ctx context.Context, provider, subjectID string) (string, error) {
	r.bump()
	return r.RefreshTokenStore.Get(ctx, provider, subjectID)
}

func (r *recordingStore) Set(ctx context.Context, provider, subjectID, tokenValue string, ttl time.Duration) error {
	r.bump()
	return r.RefreshTokenStore.Set(ctx, provider, subjectID, tokenValue, ttl)
}

func (r *recordingStore) Replace(ctx context.Context, provider, subjectID, prev, next string, ttl time.Duration) (bool, error) {
	r.bump()
	return r.RefreshTokenStore.Replace(ctx, provider, subjectID, prev, next, ttl)
}

func (r *recordingStore) Delete(ctx context.Context, provider, subjectID string) error {
	r.bump()
	return r.RefreshTokenStore.Delete(ctx, provider, subjectID)
}

// plainHasher is a test stand-in for the bcrypt hasher.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Verify(hashedPassword, password string) error {
	if hashedPassword != "plain:"+password {
		return errors.New("mismatch")
	}
	return nil
}

// fakeProvider is a scripted federation.Provider.
type fakeProvider struct {
	name          string
	exchangeErr   error
	profile       *federation.Profile
	profileErr    error
	exchangeCalls int
	profileCalls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	f.exchangeCalls++
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth2.Token{AccessToken: "ext-" + code}, nil
}

func (f *fakeProvider) FetchProfile(_ context.Context, _ *oauth2.Token) (*federation.Profile, error) {
	f.profileCalls++
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return f.profile, nil
}
