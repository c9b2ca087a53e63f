package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// slowService wraps a TokenService and delays ValidateToken replies, ignoring ctx.
type slowService struct {
	TokenService
	delay     time.Duration
	completed atomic.Int32
}

func (s *slowService) ValidateToken(ctx context.Context, raw string, override *VerifyOptions) (Claims, error) {
	time.Sleep(s.delay)
	c, err := s.TokenService.ValidateToken(context.Background(), raw, override)
	s.completed.Add(1)
	return c, err
}

func TestRemoteFacade_Verify(t *testing.T) {
	local := newFacade(t, hmacConfig())
	remote, err := NewRemoteFacadeFromService(context.Background(), local, WithRemoteLogger(quietLogger()))
	require.NoError(t, err)

	tok, err := remote.Sign(context.Background(), nil, "user-1", nil)
	require.NoError(t, err)

	claims, err := remote.Verify(context.Background(), bearer(tok))
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject())
	require.True(t, claims.ExternallyVerified())

	_, err = remote.Verify(context.Background(), bearer(tok+"x"))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRemoteFacade_TimeoutDiscardsLateResult(t *testing.T) {
	local := newFacade(t, hmacConfig())
	tok, err := local.Sign(context.Background(), nil, "user-1", nil)
	require.NoError(t, err)

	svc := &slowService{TokenService: local, delay: 200 * time.Millisecond}
	remote, err := NewRemoteFacade(local.Config().Public(), svc,
		WithRemoteTimeout(50*time.Millisecond), WithRemoteLogger(quietLogger()))
	require.NoError(t, err)

	start := time.Now()
	_, err = remote.Verify(context.Background(), bearer(tok))
	require.Less(t, time.Since(start), 150*time.Millisecond)
	var rej *Rejection
	require.ErrorAs(t, err, &rej)
	require.Equal(t, ReasonTimeout, rej.Reason)
	require.ErrorIs(t, err, ErrTimeout)

	// the valid late reply arrives but never turns into acceptance
	require.Eventually(t, func() bool { return svc.completed.Load() == 1 }, time.Second, 10*time.Millisecond)

	_, ok := remote.VerifyQuiet(context.Background(), bearer(tok))
	require.False(t, ok)
}

func TestRemoteFacade_DefaultTimeout(t *testing.T) {
	local := newFacade(t, hmacConfig())
	remote, err := NewRemoteFacade(local.Config().Public(), local)
	require.NoError(t, err)
	require.Equal(t, time.Second, remote.timeout)
}

func TestRemoteFacade_PolicyGateIsLocal(t *testing.T) {
	cfg := hmacConfig()
	cfg.AllowedTokenTypes = []TokenType{QueryOnly}
	cfg.DefaultTokenType = QueryOnly
	local := newFacade(t, cfg)
	svc := &slowService{TokenService: local}
	remote, err := NewRemoteFacade(local.Config().Public(), svc, WithRemoteLogger(quietLogger()))
	require.NoError(t, err)

	_, err = remote.Verify(context.Background(), bearer("abc"), HeaderOnly)
	require.ErrorIs(t, err, ErrUnsupportedTokenType)
	require.Equal(t, int32(0), svc.completed.Load())
}

func TestNewRemoteFacade_RequiresService(t *testing.T) {
	_, err := NewRemoteFacade(DefaultAuthConfig().Public(), nil)
	require.ErrorIs(t, err, ErrConfiguration)
}

// emptyService answers validation with neither claims nor an error.
type emptyService struct{ TokenService }

func (emptyService) ValidateToken(context.Context, string, *VerifyOptions) (Claims, error) {
	return nil, nil
}

func TestRemoteFacade_EmptyReplyIsRejected(t *testing.T) {
	local := newFacade(t, hmacConfig())
	remote, err := NewRemoteFacade(local.Config().Public(), emptyService{local}, WithRemoteLogger(quietLogger()))
	require.NoError(t, err)

	claims, err := remote.ValidateToken(context.Background(), "garbage", nil)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.Nil(t, claims)

	claims, err = remote.Verify(context.Background(), bearer("garbage"))
	require.ErrorIs(t, err, ErrInvalidToken)
	require.Nil(t, claims)
	_, ok := remote.VerifyQuiet(context.Background(), bearer("garbage"))
	require.False(t, ok)
}
