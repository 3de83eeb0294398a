package crawler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockCookieSource is a mock implementation of the CookieSource interface.
type MockCookieSource struct {
	mock.Mock
}

func (m *MockCookieSource) Cookie(ctx context.Context, platform Platform) (string, error) {
	args := m.Called(ctx, platform)
	return args.String(0), args.Error(1)
}

func TestCommandBuilder_LooksUpCookiePerPlatform(t *testing.T) {
	t.Parallel()

	cookies := new(MockCookieSource)
	cookies.On("Cookie", mock.Anything, PlatformDouyin).Return("ttwid=dy", nil).Once()
	cookies.On("Cookie", mock.Anything, PlatformWeibo).Return("SUB=wb", nil).Once()

	b, err := NewCommandBuilder(CommandConfig{Argv: []string{"python3", "main.py"}}, cookies)
	require.NoError(t, err)

	req := CrawlRequest{
		Platforms: []Platform{PlatformDouyin, PlatformWeibo},
		LoginType: LoginCookie,
	}.Normalize()
	for _, p := range req.Platforms {
		cmd, err := b.Build(context.Background(), p, req)
		require.NoError(t, err)
		require.Equal(t, "python3", cmd.Path)
		require.Equal(t, "main.py", cmd.Args[0])
	}
	cookies.AssertExpectations(t)
}

func TestCommandBuilder_SkipsLookupWithoutCookieLogin(t *testing.T) {
	t.Parallel()

	cookies := new(MockCookieSource)
	b, err := NewCommandBuilder(CommandConfig{Argv: []string{"crawler"}}, cookies)
	require.NoError(t, err)

	_, err = b.Build(context.Background(), PlatformZhihu, CrawlRequest{Platforms: []Platform{PlatformZhihu}}.Normalize())
	require.NoError(t, err)
	cookies.AssertNotCalled(t, "Cookie", mock.Anything, mock.Anything)
}
