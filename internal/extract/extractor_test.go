package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/funding-crawler/internal/clock/system"
	"github.com/JakeFAU/funding-crawler/internal/crawler"
)

var capturedAt = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func TestExtractCollectsPage(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{
		snap: crawler.PageSnapshot{
			URL:   "https://funds.example.org/calls/",
			Title: "Open calls",
			Text:  "Grant deadline March 2025",
			HTML:  `<body><a href="apply">Apply: Grant application</a><a href="/about">About us</a></body>`,
		},
		shot: []byte("png"),
	}
	e := New(system.NewFrozen(capturedAt), true, nil)

	page, err := e.Extract(context.Background(), sess, "https://funds.example.org/calls", 0)
	require.NoError(t, err)
	require.Equal(t, "https://funds.example.org/calls", page.URL)
	require.Equal(t, "Open calls", page.Title)
	require.Equal(t, capturedAt, page.CapturedAt)
	require.Equal(t, []crawler.Link{{URL: "https://funds.example.org/calls/apply", Text: "Apply: Grant application"}}, page.Links)
	require.Equal(t, "cG5n", page.ScreenshotBase64)
	require.True(t, sess.navDeadline.After(time.Now().Add(DefaultTimeout-time.Second)), "default timeout applies to navigation")
}

func TestExtractScreenshotFailureIsNotAnError(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{snap: crawler.PageSnapshot{Title: "t"}, shotErr: errors.New("gpu gone")}
	e := New(system.NewFrozen(capturedAt), true, nil)
	page, err := e.Extract(context.Background(), sess, "https://a.example", time.Second)
	require.NoError(t, err)
	require.Empty(t, page.ScreenshotBase64)
	require.Nil(t, page.Screenshot)
}

func TestExtractSkipsScreenshotWhenDisabled(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{shot: []byte("png")}
	e := New(system.NewFrozen(capturedAt), false, nil)
	page, err := e.Extract(context.Background(), sess, "https://a.example", time.Second)
	require.NoError(t, err)
	require.Empty(t, page.ScreenshotBase64)
	require.Zero(t, sess.shots)
}

func TestExtractClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sess *fakeSession
		want error
	}{
		{name: "deadline", sess: &fakeSession{navErr: fmt.Errorf("wait body: %w", context.DeadlineExceeded)}, want: crawler.ErrNavigationTimeout},
		{name: "blocks until timeout", sess: &fakeSession{block: true}, want: crawler.ErrNavigationTimeout},
		{name: "driver", sess: &fakeSession{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}, want: crawler.ErrDriverFault},
		{name: "snapshot", sess: &fakeSession{snapErr: errors.New("target closed")}, want: crawler.ErrDriverFault},
		{name: "snapshot hangs", sess: &fakeSession{blockSnapshot: true}, want: crawler.ErrNavigationTimeout},
		{name: "panic", sess: &fakeSession{panicOnNav: true}, want: crawler.ErrUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := New(system.NewFrozen(capturedAt), true, nil)
			page, err := e.Extract(context.Background(), tt.sess, "https://a.example", 30*time.Millisecond)
			require.ErrorIs(t, err, tt.want)
			require.Empty(t, page.URL)
		})
	}
}

func TestExtractNilSession(t *testing.T) {
	t.Parallel()

	_, err := New(system.New(), false, nil).Extract(context.Background(), nil, "https://a.example", time.Second)
	require.ErrorIs(t, err, crawler.ErrDriverFault)
}

func TestFilterLinksScansOnlyFirstTwenty(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<body>")
	for i := range 20 {
		fmt.Fprintf(&b, `<a href="/nav/%d">Menu %d</a>`, i, i)
	}
	b.WriteString(`<a href="/late">Funding call</a></body>`)
	require.Empty(t, FilterLinks(b.String(), "https://x.org"))
}

func TestFilterLinksKeywordAndHref(t *testing.T) {
	t.Parallel()

	html := `<body>
<a href="https://other.org/eligibility">ELIGIBILITY Criteria</a>
<a>Budget without href</a>
<a href="javascript:void(0)">Deadline popup</a>
<a href="/proposal?id=3">  Submit   proposal </a>
<a href="/contact">Contact</a>
</body>`
	got := FilterLinks(html, "https://x.org/base/page")
	require.Equal(t, []crawler.Link{
		{URL: "https://other.org/eligibility", Text: "ELIGIBILITY Criteria"},
		{URL: "https://x.org/proposal?id=3", Text: "Submit proposal"},
	}, got)
	require.NotNil(t, FilterLinks("", "https://x.org"))
}

// --- fakes ---

type fakeSession struct {
	snap          crawler.PageSnapshot
	navErr        error
	snapErr       error
	shot          []byte
	shotErr       error
	block         bool
	blockSnapshot bool
	panicOnNav    bool
	navDeadline   time.Time
	shots         int
}

func (f *fakeSession) Navigate(ctx context.Context, _ string) error {
	if f.panicOnNav {
		panic("driver exploded")
	}
	f.navDeadline, _ = ctx.Deadline()
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.navErr
}

func (f *fakeSession) Snapshot(ctx context.Context) (crawler.PageSnapshot, error) {
	if f.blockSnapshot {
		<-ctx.Done()
		return crawler.PageSnapshot{}, ctx.Err()
	}
	return f.snap, f.snapErr
}

func (f *fakeSession) Screenshot(context.Context) ([]byte, error) {
	f.shots++
	return f.shot, f.shotErr
}
