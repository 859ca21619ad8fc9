package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRun_ExplicitID(t *testing.T) {
	got, err := Run(context.Background(), func(ctx context.Context) (string, error) {
		return CorrelationID(ctx), nil
	}, "req-1")

	require.NoError(t, err)
	assert.Equal(t, "req-1", got)
}

func TestRun_GeneratedIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := Run(context.Background(), func(ctx context.Context) (string, error) {
			return CorrelationID(ctx), nil
		})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestRun_EmptyIDIsGenerated(t *testing.T) {
	id, _ := Run(context.Background(), func(ctx context.Context) (string, error) {
		return CorrelationID(ctx), nil
	}, "", "")

	assert.NotEmpty(t, id)
}

func TestRun_PropagatesResultAndError(t *testing.T) {
	sentinel := errors.New("handler failed")

	n, err := Run(context.Background(), func(ctx context.Context) (int, error) {
		return 42, sentinel
	}, "req-err")

	assert.Equal(t, 42, n)
	assert.ErrorIs(t, err, sentinel)

	err = Do(context.Background(), func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestRun_PropagatesPanic(t *testing.T) {
	assert.PanicsWithValue(t, "boom", func() {
		_ = Do(context.Background(), func(ctx context.Context) error {
			panic("boom")
		})
	})
}

func TestScope_SurvivesSuspension(t *testing.T) {
	err := Do(context.Background(), func(ctx context.Context) error {
		SetUserID(ctx, "user-7")

		time.Sleep(5 * time.Millisecond)
		assert.Equal(t, "req-sleep", CorrelationID(ctx))

		done := make(chan struct{})
		var fromGoroutine string
		var user string
		go func() {
			defer close(done)
			fromGoroutine = CorrelationID(ctx)
			user, _ = UserID(ctx)
		}()
		<-done

		assert.Equal(t, "req-sleep", fromGoroutine)
		assert.Equal(t, "user-7", user)
		return nil
	}, "req-sleep")
	require.NoError(t, err)
}

func TestScope_ConcurrentIsolation(t *testing.T) {
	// Two scopes interleave on shared goroutines; neither may see the other.
	type probe struct{ id, user string }
	results := map[string][]probe{}
	var mu sync.Mutex
	record := func(scopeName string, ctx context.Context) {
		user, _ := UserID(ctx)
		mu.Lock()
		results[scopeName] = append(results[scopeName], probe{CorrelationID(ctx), user})
		mu.Unlock()
	}

	start := make(chan struct{})
	g, gctx := errgroup.WithContext(context.Background())
	for _, name := range []string{"A", "B"} {
		g.Go(func() error {
			<-start
			return Do(gctx, func(ctx context.Context) error {
				SetUserID(ctx, "user-"+name)
				record(name, ctx)
				time.Sleep(10 * time.Millisecond)
				record(name, ctx)

				inner, _ := errgroup.WithContext(ctx)
				for i := 0; i < 5; i++ {
					inner.Go(func() error {
						time.Sleep(time.Duration(i) * time.Millisecond)
						record(name, ctx)
						return nil
					})
				}
				return inner.Wait()
			}, name)
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	for _, name := range []string{"A", "B"} {
		require.Len(t, results[name], 7)
		for _, p := range results[name] {
			assert.Equal(t, name, p.id)
			assert.Equal(t, "user-"+name, p.user)
		}
	}
}

func TestScope_ManyConcurrentScopes(t *testing.T) {
	var g errgroup.Group
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("req-%d", i)
		g.Go(func() error {
			return Do(context.Background(), func(ctx context.Context) error {
				SetUserID(ctx, id)
				time.Sleep(time.Millisecond)
				if got := CorrelationID(ctx); got != id {
					return fmt.Errorf("scope %s saw correlation id %s", id, got)
				}
				if got, _ := UserID(ctx); got != id {
					return fmt.Errorf("scope %s saw user id %s", id, got)
				}
				return nil
			}, id)
		})
	}
	require.NoError(t, g.Wait())
}

func TestScope_NoInheritance(t *testing.T) {
	err := Do(context.Background(), func(outer context.Context) error {
		SetUserID(outer, "outer-user")

		return Do(outer, func(inner context.Context) error {
			assert.NotEqual(t, "outer", CorrelationID(inner))
			_, ok := UserID(inner)
			assert.False(t, ok, "inner scope must not see outer user id")

			SetUserID(inner, "inner-user")
			u, _ := UserID(outer)
			assert.Equal(t, "outer-user", u, "inner writes must not reach outer scope")
			return nil
		})
	}, "outer")
	require.NoError(t, err)
}

func TestOutsideScope_Defaults(t *testing.T) {
	ctx := context.Background()

	id1 := CorrelationID(ctx)
	id2 := CorrelationID(ctx)
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	_, ok := UserID(ctx)
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		SetUserID(ctx, "nobody")
		Clear(ctx)
		Set(ctx, "k", "v")
	})
	_, ok = UserID(ctx)
	assert.False(t, ok)

	assert.Equal(t, map[string]string{}, Snapshot(ctx))
	assert.False(t, InScope(ctx))
}

func TestSetUserID_LastWriteWins(t *testing.T) {
	_ = Do(context.Background(), func(ctx context.Context) error {
		_, ok := UserID(ctx)
		assert.False(t, ok)

		SetUserID(ctx, "first")
		SetUserID(ctx, "second")

		u, ok := UserID(ctx)
		assert.True(t, ok)
		assert.Equal(t, "second", u)
		return nil
	})
}

func TestSet_CorrelationIDIsImmutable(t *testing.T) {
	err := Do(context.Background(), func(ctx context.Context) error {
		Set(ctx, KeyCorrelationID, "hijacked")
		assert.Equal(t, "req-1", CorrelationID(ctx))
		assert.Equal(t, "req-1", Snapshot(ctx)[KeyCorrelationID])

		Set(ctx, "tenant", "acme")
		v, ok := Get(ctx, "tenant")
		assert.True(t, ok)
		assert.Equal(t, "acme", v)

		Clear(ctx)
		Set(ctx, KeyCorrelationID, "hijacked")
		_, ok = Get(ctx, KeyCorrelationID)
		assert.False(t, ok)
		assert.NotEqual(t, "hijacked", CorrelationID(ctx))
		return nil
	}, "req-1")
	require.NoError(t, err)
}

func TestClear(t *testing.T) {
	var other context.Context
	otherReady := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = Do(context.Background(), func(ctx context.Context) error {
			SetUserID(ctx, "other-user")
			other = ctx
			close(otherReady)
			<-release
			return nil
		}, "other")
	}()
	<-otherReady
	defer close(release)

	_ = Do(context.Background(), func(ctx context.Context) error {
		SetUserID(ctx, "u1")
		Clear(ctx)

		_, ok := UserID(ctx)
		assert.False(t, ok)
		assert.Equal(t, map[string]string{}, Snapshot(ctx))

		id := CorrelationID(ctx)
		assert.NotEmpty(t, id)
		assert.NotEqual(t, "mine", id)
		return nil
	}, "mine")

	assert.Equal(t, "other", CorrelationID(other))
	u, _ := UserID(other)
	assert.Equal(t, "other-user", u)
}

func TestSnapshot(t *testing.T) {
	_ = Do(context.Background(), func(ctx context.Context) error {
		SetUserID(ctx, "u1")
		Set(ctx, "tenant", "acme")

		snap := Snapshot(ctx)
		assert.Equal(t, map[string]string{
			KeyCorrelationID: "req-snap",
			KeyUserID:        "u1",
			"tenant":         "acme",
		}, snap)

		snap["tenant"] = "mutated"
		v, _ := Get(ctx, "tenant")
		assert.Equal(t, "acme", v, "snapshot must be a copy")
		return nil
	}, "req-snap")
}

func TestNewScope_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is tolerated on purpose
	ctx := NewScope(nil, "x")
	assert.True(t, InScope(ctx))
	assert.Equal(t, "x", CorrelationID(ctx))
}
