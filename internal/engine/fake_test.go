package engine

import (
	"context"
	"sync"
	"time"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/provider"
	"github.com/yairfalse/stackforge/pkg/account"
)

// fakeAdapter counts calls and returns scripted results.
type fakeAdapter struct {
	name         string
	accountDelay time.Duration

	mu           sync.Mutex
	accountErr   error
	accountCalls int
	createErr    map[string]error
	initial      map[string]account.ResourceStatus
	describe     map[string]account.ResourceStatus
	creates      map[string]int
	describes    map[string]int
}

func newFake(name string) *fakeAdapter {
	return &fakeAdapter{
		name:      name,
		createErr: make(map[string]error),
		initial:   make(map[string]account.ResourceStatus),
		describe:  make(map[string]account.ResourceStatus),
		creates:   make(map[string]int),
		describes: make(map[string]int),
	}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) CreateAccount(ctx context.Context, req provider.AccountRequest) (provider.AccountInfo, error) {
	if f.accountDelay > 0 {
		time.Sleep(f.accountDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls++
	if f.accountErr != nil {
		return provider.AccountInfo{}, f.accountErr
	}
	id := "acct-" + account.Slug(req.StartupName)
	return provider.AccountInfo{
		AccountID:   id,
		AccountName: req.AccountName(),
		ConsoleURL:  "https://console.example/" + id,
	}, nil
}

func (f *fakeAdapter) CreateResource(ctx context.Context, acc account.Account, def catalog.ServiceDefinition) (provider.ResourceDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates[def.ID]++
	if err := f.createErr[def.ID]; err != nil {
		return provider.ResourceDetails{}, err
	}
	status, ok := f.initial[def.ID]
	if !ok {
		status = account.ResourceAvailable
	}
	return provider.ResourceDetails{
		ResourceID: acc.AccountID + "/" + def.ID,
		Status:     status,
		Region:     "test-1",
		Username:   "startupuser",
		Password:   "secret" + def.ID,
	}, nil
}

func (f *fakeAdapter) DescribeResource(ctx context.Context, acc account.Account, res account.Resource) account.ResourceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describes[res.Service]++
	if s, ok := f.describe[res.Service]; ok {
		return s
	}
	return res.Status
}

func (f *fakeAdapter) setDescribe(service string, s account.ResourceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describe[service] = s
}

func (f *fakeAdapter) setAccountErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountErr = err
}

func (f *fakeAdapter) setCreateErr(service string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.createErr, service)
		return
	}
	f.createErr[service] = err
}

func (f *fakeAdapter) accounts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountCalls
}

func (f *fakeAdapter) createCount(service string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates[service]
}

func (f *fakeAdapter) describeCount(service string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.describes[service]
}
