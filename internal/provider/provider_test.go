/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type RoundTripFunc func(req *http.Request) *http.Response

func (f RoundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req), nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

const searchBody = `{
	"items": [
		{"id": {"videoId": "vid1"}, "snippet": {"title": "Birds 1", "liveBroadcastContent": "none"}},
		{"id": {"channelId": "UCxx"}, "snippet": {"title": "not a video"}},
		{"id": {"videoId": "vid2"}, "snippet": {"title": "Birds Live", "liveBroadcastContent": "live"}}
	]
}`

func TestParseSource(t *testing.T) {
	tests := []struct {
		raw   string
		kind  SourceKind
		value string
	}{
		{"bird videos for cats", SourceSearch, "bird videos for cats"},
		{"  fish tank  ", SourceSearch, "fish tank"},
		{"UCabcdefghijklmnopqrstuv", SourceChannelID, "UCabcdefghijklmnopqrstuv"},
		{"UCshort", SourceSearch, "UCshort"},
		{"@PaulDinningVideos", SourceHandle, "@PaulDinningVideos"},
		{"@two words", SourceSearch, "@two words"},
		{"https://www.youtube.com/channel/UCabcdefghijklmnopqrstuv", SourceChannelID, "UCabcdefghijklmnopqrstuv"},
		{"https://www.youtube.com/@BirderKing/videos", SourceHandle, "@BirderKing"},
		{"https://www.youtube.com/c/LegacyName", SourceChannelURL, "https://www.youtube.com/c/LegacyName"},
		{"https://example.com/birds", SourceSearch, "https://example.com/birds"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ParseSource(tt.raw)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.value, got.Value)
		})
	}
}

func TestVideoIDFromURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://www.youtube.com/watch?v=xbs7FT7dXYc", "xbs7FT7dXYc"},
		{"https://youtube.com/watch?v=abc&t=30s", "abc"},
		{"https://m.youtube.com/watch?v=mobile1", "mobile1"},
		{"https://youtu.be/short1", "short1"},
		{"https://www.youtube.com/shorts/s1", "s1"},
		{"https://www.youtube.com/@BirderKing", ""},
		{"https://media.example/cat.mp4", ""},
		{"not a url", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VideoIDFromURL(tt.raw), tt.raw)
	}
}

func TestYouTubeSearchQuery(t *testing.T) {
	var seen *http.Request
	hc := &http.Client{Transport: RoundTripFunc(func(req *http.Request) *http.Response {
		seen = req
		return jsonResponse(http.StatusOK, searchBody)
	})}

	client := NewYouTubeClient("key", "https://mock.test/youtube/v3/search", 5, hc)
	videos, err := client.Search(context.Background(), "bird videos for cats")
	require.NoError(t, err)

	require.Len(t, videos, 2)
	assert.Equal(t, "vid1", videos[0].ID)
	assert.False(t, videos[0].Live)
	assert.True(t, videos[1].Live)
	assert.Equal(t, "https://www.youtube.com/watch?v=vid1", videos[0].WatchURL())

	q := seen.URL.Query()
	assert.Equal(t, "bird videos for cats", q.Get("q"))
	assert.Equal(t, "video", q.Get("type"))
	assert.Equal(t, "5", q.Get("maxResults"))
	assert.Equal(t, "key", q.Get("key"))
	assert.Empty(t, q.Get("channelId"))
}

func TestYouTubeSearchChannelID(t *testing.T) {
	var seen *http.Request
	hc := &http.Client{Transport: RoundTripFunc(func(req *http.Request) *http.Response {
		seen = req
		return jsonResponse(http.StatusOK, searchBody)
	})}

	client := NewYouTubeClient("key", "https://mock.test/youtube/v3/search", 10, hc)
	_, err := client.Search(context.Background(), "UCabcdefghijklmnopqrstuv")
	require.NoError(t, err)

	q := seen.URL.Query()
	assert.Equal(t, "UCabcdefghijklmnopqrstuv", q.Get("channelId"))
	assert.Equal(t, "date", q.Get("order"))
	assert.Empty(t, q.Get("q"))
}

func TestYouTubeSearchResolvesHandle(t *testing.T) {
	var paths []string
	hc := &http.Client{Transport: RoundTripFunc(func(req *http.Request) *http.Response {
		paths = append(paths, req.URL.Path)
		if strings.HasSuffix(req.URL.Path, "/channels") {
			assert.Equal(t, "@BirderKing", req.URL.Query().Get("forHandle"))
			return jsonResponse(http.StatusOK, `{"items":[{"id":"UCresolvedresolvedresolv"}]}`)
		}
		assert.Equal(t, "UCresolvedresolvedresolv", req.URL.Query().Get("channelId"))
		return jsonResponse(http.StatusOK, searchBody)
	})}

	client := NewYouTubeClient("key", "https://mock.test/youtube/v3/search", 10, hc)
	videos, err := client.Search(context.Background(), "@BirderKing")
	require.NoError(t, err)
	assert.Len(t, videos, 2)
	assert.Equal(t, []string{"/youtube/v3/channels", "/youtube/v3/search"}, paths)
}

func TestYouTubeSearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{"quota reason", http.StatusForbidden, `{"error":{"code":403,"errors":[{"reason":"quotaExceeded"}]}}`, KindQuota},
		{"too many requests", http.StatusTooManyRequests, ``, KindQuota},
		{"forbidden other", http.StatusForbidden, `{"error":{"code":403,"errors":[{"reason":"forbidden"}]}}`, KindStatus},
		{"server error", http.StatusInternalServerError, `oops`, KindStatus},
		{"bad json", http.StatusOK, `{"items": [`, KindDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := &http.Client{Transport: RoundTripFunc(func(req *http.Request) *http.Response {
				return jsonResponse(tt.status, tt.body)
			})}
			client := NewYouTubeClient("key", "https://mock.test/youtube/v3/search", 10, hc)

			_, err := client.Search(context.Background(), "cats")
			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.kind, perr.Kind)
			assert.Equal(t, "youtube_api", perr.Provider)
		})
	}
}

func TestYouTubeUnsupportedSource(t *testing.T) {
	client := NewYouTubeClient("key", "https://mock.test/youtube/v3/search", 10, &http.Client{
		Transport: RoundTripFunc(func(req *http.Request) *http.Response {
			t.Fatal("no request expected")
			return nil
		}),
	})

	_, err := client.Search(context.Background(), "https://www.youtube.com/c/LegacyName")
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindUnsupported, perr.Kind)
}

func TestYTDLPSearch(t *testing.T) {
	var gotArgs []string
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "/usr/bin/yt-dlp", name)
		gotArgs = args
		return []byte(`{"id":"a1","title":"Squirrels","duration":601.5,"live_status":"not_live"}
{"id":"a2","title":"Aquarium","live_status":"is_live"}

{"title":"no id"}
`), nil
	}

	client := NewYTDLPClient("/usr/bin/yt-dlp", 3, run)
	videos, err := client.Search(context.Background(), "squirrels for cats")
	require.NoError(t, err)

	require.Len(t, videos, 2)
	assert.Equal(t, "a1", videos[0].ID)
	assert.Equal(t, 601500*time.Millisecond, videos[0].Duration)
	assert.True(t, videos[1].Live)
	assert.Equal(t, "ytsearch3:squirrels for cats", gotArgs[len(gotArgs)-1])
	assert.Contains(t, gotArgs, "--flat-playlist")
}

func TestYTDLPTargets(t *testing.T) {
	client := NewYTDLPClient("", 10, nil)
	assert.Equal(t, "https://www.youtube.com/channel/UCabcdefghijklmnopqrstuv/videos", client.Target("UCabcdefghijklmnopqrstuv"))
	assert.Equal(t, "https://www.youtube.com/@BirderKing/videos", client.Target("@BirderKing"))
	assert.Equal(t, "https://www.youtube.com/c/LegacyName/videos", client.Target("https://www.youtube.com/c/LegacyName/"))
	assert.Equal(t, "ytsearch10:fish", client.Target("fish"))
}

func TestYTDLPErrors(t *testing.T) {
	failing := NewYTDLPClient("yt-dlp", 10, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("exit status 1: ERROR: unable to download")
	})
	_, err := failing.Search(context.Background(), "cats")
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindStatus, perr.Kind)

	garbled := NewYTDLPClient("yt-dlp", 10, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("not json\n"), nil
	})
	_, err = garbled.Search(context.Background(), "cats")
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindDecode, perr.Kind)
}

type stubClient struct {
	name   string
	videos []Video
	err    error
	calls  int
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Search(ctx context.Context, source string) ([]Video, error) {
	s.calls++
	return s.videos, s.err
}

func TestChainFallsThrough(t *testing.T) {
	first := &stubClient{name: "a", err: &Error{Provider: "a", Kind: KindQuota, Err: errors.New("quota")}}
	second := &stubClient{name: "b", videos: []Video{{ID: "v"}}}

	chain := NewChain(zerolog.Nop(), first, second)
	videos, err := chain.Search(context.Background(), "cats")
	require.NoError(t, err)
	assert.Equal(t, []Video{{ID: "v"}}, videos)
	assert.Equal(t, "a+b", chain.Name())
}

func TestChainAllFail(t *testing.T) {
	errA := errors.New("a down")
	errB := errors.New("b down")
	chain := NewChain(zerolog.Nop(), &stubClient{name: "a", err: errA}, &stubClient{name: "b", err: errB})

	_, err := chain.Search(context.Background(), "cats")
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestChainEmptyIsNotError(t *testing.T) {
	chain := NewChain(zerolog.Nop(), &stubClient{name: "a", err: errors.New("down")}, &stubClient{name: "b"})

	videos, err := chain.Search(context.Background(), "cats")
	assert.NoError(t, err)
	assert.Empty(t, videos)
}

func TestChainReportsExpiredContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	errA := errors.New("a timed out")
	second := &stubClient{name: "b", videos: []Video{{ID: "v"}}}
	chain := NewChain(zerolog.Nop(), &stubClient{name: "a", err: errA}, second)

	videos, err := chain.Search(ctx, "cats")
	require.Error(t, err)
	assert.Empty(t, videos)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, second.calls)
}

func TestCachedClientPassThroughWithoutRedis(t *testing.T) {
	inner := &stubClient{name: "a", videos: []Video{{ID: "v"}}}
	cached := NewCachedClient(inner, nil, time.Minute, zerolog.Nop())

	assert.False(t, cached.IsAvailable())
	for i := 0; i < 2; i++ {
		_, err := cached.Search(context.Background(), "cats")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, inner.calls)
}

func TestCachedClientServesFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &stubClient{name: "a", videos: []Video{{ID: "v", Title: "Birds"}}}
	cached := NewCachedClient(inner, rdb, time.Minute, zerolog.Nop())

	first, err := cached.Search(context.Background(), "Cats ")
	require.NoError(t, err)
	second, err := cached.Search(context.Background(), "cats")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	mr.FastForward(2 * time.Minute)
	_, err = cached.Search(context.Background(), "cats")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedClientSkipsEmptyResults(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &stubClient{name: "a"}
	cached := NewCachedClient(inner, rdb, time.Minute, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := cached.Search(context.Background(), "cats")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, inner.calls)
	assert.Empty(t, mr.Keys())
}

func TestCachedClientDisablesOnRedisError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &stubClient{name: "a", videos: []Video{{ID: "v"}}}
	cached := NewCachedClient(inner, rdb, time.Minute, zerolog.Nop())
	mr.Close()

	videos, err := cached.Search(context.Background(), "cats")
	require.NoError(t, err)
	assert.Len(t, videos, 1)
	assert.False(t, cached.IsAvailable())
}

func TestCachedClientSurvivesCallerTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &stubClient{name: "a", videos: []Video{{ID: "v"}}}
	cached := NewCachedClient(inner, rdb, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = cached.Search(ctx, "cats")
	assert.True(t, cached.IsAvailable(), "an expired caller context must not disable the cache")

	_, err := cached.Search(context.Background(), "cats")
	require.NoError(t, err)
	_, err = cached.Search(context.Background(), "cats")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "second background search should hit redis")
}

func TestYTDLPResolve(t *testing.T) {
	client := NewYTDLPClient("yt-dlp", 10, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "https://www.youtube.com/watch?v=a1", args[len(args)-1])
		assert.Contains(t, args, "-g")
		return []byte("\nhttps://media.example/a1.mp4\n"), nil
	})

	url, err := client.Resolve(context.Background(), "https://www.youtube.com/watch?v=a1")
	require.NoError(t, err)
	assert.Equal(t, "https://media.example/a1.mp4", url)

	empty := NewYTDLPClient("yt-dlp", 10, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("\n"), nil
	})
	_, err = empty.Resolve(context.Background(), "https://www.youtube.com/watch?v=a1")
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindDecode, perr.Kind)
}
