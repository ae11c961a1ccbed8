package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type UserFixture struct {
	*BaseFixture
	userStore UserStore
}

func NewUserFixture(t *testing.T) *UserFixture {
	base := NewBaseFixture(t)
	userStore := NewSQLiteUserStore(base.db)
	return &UserFixture{
		BaseFixture: base,
		userStore:   userStore,
	}
}

func TestCreateUser(t *testing.T) {
	t.Run("create and fetch", func(t *testing.T) {
		f := NewUserFixture(t)
		defer f.tearDown()

		err := f.userStore.CreateUser(f.ctx, alice)
		require.Nil(t, err)

		got, err := f.userStore.GetUserByUsername(f.ctx, alice.Username)
		require.Nil(t, err)
		require.NotNil(t, got)
		assert.Equal(t, alice.Username, got.Username)
		assert.Equal(t, alice.Name, got.Name)
	})

	t.Run("duplicate username", func(t *testing.T) {
		f := NewUserFixture(t)
		defer f.tearDown()
		seedUsers(f.ctx, t, f.userStore, alice)

		err := f.userStore.CreateUser(f.ctx, alice)
		require.NotNil(t, err)
		assert.Equal(t, ErrConflictedUser, err)
	})
}

func TestGetUserByUsername(t *testing.T) {
	f := NewUserFixture(t)
	defer f.tearDown()

	got, err := f.userStore.GetUserByUsername(f.ctx, "nobody")
	require.Nil(t, err)
	assert.Nil(t, got)
}

func TestGetUsersByUsernames(t *testing.T) {
	f := NewUserFixture(t)
	defer f.tearDown()
	seedUsers(f.ctx, t, f.userStore, alice, bob)

	users, err := f.userStore.GetUsersByUsernames(f.ctx, alice.Username, bob.Username, "nobody")
	require.Nil(t, err)
	require.Len(t, users, 2)
}

func TestComparePassword(t *testing.T) {
	f := NewUserFixture(t)
	defer f.tearDown()
	seedUsers(f.ctx, t, f.userStore, alice)

	ok, err := f.userStore.ComparePassword(f.ctx, alice.Username, alice.Password)
	require.Nil(t, err)
	assert.True(t, ok)

	ok, err = f.userStore.ComparePassword(f.ctx, alice.Username, "wrong")
	require.Nil(t, err)
	assert.False(t, ok)

	ok, err = f.userStore.ComparePassword(f.ctx, "nobody", "whatever")
	require.Nil(t, err)
	assert.False(t, ok)
}
