package circulation_test

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lmscirc/internal/catalog"
	"lmscirc/internal/circulation"
	"lmscirc/internal/clock"
	"lmscirc/internal/identity"
	"lmscirc/internal/logger"
	"lmscirc/internal/store/memstore"
)

// testingT is satisfied by both *testing.T and *rapid.T.
type testingT interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
	FailNow()
}

var start = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ctx    context.Context
	store  *memstore.Store
	clock  *clock.Fixed
	svc    circulation.Service
	staff  identity.Principal
	book   catalog.Book
	copies []catalog.Copy
}

func newFixture(t testingT, copies int, opts ...circulation.Option) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: memstore.New(),
		clock: clock.NewFixed(start),
	}
	opts = append([]circulation.Option{circulation.WithLogger(logger.Discard())}, opts...)
	f.svc = circulation.NewService(f.store, f.store, f.clock, opts...)

	librarian := f.newUser(t, identity.RoleLibrarian)
	f.staff = identity.Principal{UserID: librarian.ID, Role: librarian.Role}

	f.book = catalog.Book{ID: uuid.New(), ISBN: "9780131103627", Title: "The C Programming Language", Author: "Kernighan, Ritchie", CreatedAt: start}
	require.NoError(t, f.store.InsertBook(f.ctx, &f.book))
	for i := 0; i < copies; i++ {
		c := catalog.Copy{
			ID:      uuid.New(),
			BookID:  f.book.ID,
			Title:   f.book.Title,
			Barcode: fmt.Sprintf("KR-%03d", i+1),
			Status:  catalog.StatusAvailable,
			Version: 1,
		}
		require.NoError(t, f.store.InsertCopy(f.ctx, &c))
		f.copies = append(f.copies, c)
	}
	return f
}

func (f *fixture) newUser(t testingT, role identity.Role) *identity.User {
	t.Helper()
	u := &identity.User{
		ID:        uuid.New(),
		Email:     uuid.NewString() + "@example.org",
		Name:      string(role),
		Role:      role,
		Status:    identity.StatusActive,
		CreatedAt: start,
		Version:   1,
	}
	require.NoError(t, f.store.CreateUser(f.ctx, u, &identity.Credential{UserID: u.ID}))
	return u
}

func (f *fixture) reader(t testingT) identity.Principal {
	t.Helper()
	u := f.newUser(t, identity.RoleStudent)
	return identity.Principal{UserID: u.ID, Role: u.Role}
}

func (f *fixture) copyStatus(t testingT, i int) catalog.CopyStatus {
	t.Helper()
	c, err := f.store.GetCopy(f.ctx, f.copies[i].ID)
	require.NoError(t, err)
	return c.Status
}

func (f *fixture) issue(t testingT, reader identity.Principal, i int) *circulation.Transaction {
	t.Helper()
	tr, err := f.svc.Issue(f.ctx, f.staff, reader.UserID, f.copies[i].ID)
	require.NoError(t, err)
	return tr
}

func (f *fixture) reserve(t testingT, reader identity.Principal) *circulation.Reservation {
	t.Helper()
	r, err := f.svc.Reserve(f.ctx, reader, reader.UserID, f.book.ID)
	require.NoError(t, err)
	return r
}

func (f *fixture) reservation(t testingT, reader identity.Principal, id uuid.UUID) circulation.Reservation {
	t.Helper()
	list, err := f.svc.ListReservations(f.ctx, reader, reader.UserID)
	require.NoError(t, err)
	for _, r := range list {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("reservation %s not listed for %s", id, reader.UserID)
	return circulation.Reservation{}
}
