package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/rat-autofill/internal/locator"
)

const testFormPage = `<html><body>
<form action="/submit" method="post">
  <input type="text" name="username" id="user" value="prefilled">
  <input type="password" name="password">
  <label><input type="radio" name="q1" value="Setuju"> Setuju</label>
  <label><input type="radio" name="q1" value="Tidak Setuju" checked> Tidak Setuju</label>
  <input type="checkbox" name="agree">
  <textarea name="notes">old</textarea>
  <select name="branch"><option value="a">A</option><option value="b" selected>B</option></select>
  <input type="hidden" name="token" value="t0k">
  <button type="submit" name="action" value="kirim">Kirim</button>
</form>
<a href="/next" class="logout">Logout</a>
</body></html>`

func newFormServer(t *testing.T, received *url.Values) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, testFormPage)
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		*received = r.PostForm
		fmt.Fprint(w, `<html><body><p id="done">Terima kasih</p></body></html>`)
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Login</h1></body></html>`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openStatic(t *testing.T, target string) Session {
	t.Helper()

	session, err := NewStaticBrowser(Options{}).Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	require.NoError(t, session.Navigate(context.Background(), target))
	return session
}

func TestStaticSession_Locate(t *testing.T) {
	var received url.Values
	srv := newFormServer(t, &received)
	session := openStatic(t, srv.URL)
	ctx := context.Background()

	tests := []struct {
		name string
		loc  locator.Locator
		want int
	}{
		{"by name", locator.Locator{By: locator.ByName, Pattern: "username"}, 1},
		{"by id", locator.Locator{By: locator.ByID, Pattern: "user"}, 1},
		{"by css", locator.Locator{By: locator.ByCSS, Pattern: "input[type='radio']"}, 2},
		{"by xpath", locator.Locator{By: locator.ByXPath, Pattern: "//button[contains(text(), 'Kirim')]"}, 1},
		{"xpath sibling text", locator.Locator{By: locator.ByXPath, Pattern: "//input[@type='radio'][@value='Setuju']"}, 1},
		{"no match", locator.Locator{By: locator.ByName, Pattern: "missing"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elements, err := session.Locate(ctx, tt.loc)
			require.NoError(t, err)
			assert.Len(t, elements, tt.want)
		})
	}
}

func TestStaticSession_LocateBadPattern(t *testing.T) {
	var received url.Values
	srv := newFormServer(t, &received)
	session := openStatic(t, srv.URL)

	_, err := session.Locate(context.Background(), locator.Locator{By: locator.ByXPath, Pattern: "//input[@"})
	assert.Error(t, err)

	_, err = session.Locate(context.Background(), locator.Locator{By: "regex", Pattern: "x"})
	assert.Error(t, err)
}

func TestStaticSession_SubmitForm(t *testing.T) {
	var received url.Values
	srv := newFormServer(t, &received)
	session := openStatic(t, srv.URL)
	ctx := context.Background()

	first := func(l locator.Locator) Element {
		elements, err := session.Locate(ctx, l)
		require.NoError(t, err)
		require.NotEmpty(t, elements)
		return elements[0]
	}

	user := first(locator.Locator{By: locator.ByName, Pattern: "username"})
	require.NoError(t, user.Clear(ctx))
	require.NoError(t, user.Type(ctx, "user1"))
	require.NoError(t, first(locator.Locator{By: locator.ByName, Pattern: "password"}).Type(ctx, "pass1"))

	agree := first(locator.Locator{By: locator.ByXPath, Pattern: "//input[@value='Setuju']"})
	selected, err := agree.Selected(ctx)
	require.NoError(t, err)
	assert.False(t, selected)
	require.NoError(t, agree.DispatchClick(ctx))
	selected, err = agree.Selected(ctx)
	require.NoError(t, err)
	assert.True(t, selected)

	other := first(locator.Locator{By: locator.ByXPath, Pattern: "//input[@value='Tidak Setuju']"})
	selected, err = other.Selected(ctx)
	require.NoError(t, err)
	assert.False(t, selected, "checking a radio unchecks the rest of its group")

	notes := first(locator.Locator{By: locator.ByName, Pattern: "notes"})
	require.NoError(t, notes.Clear(ctx))
	require.NoError(t, notes.Type(ctx, "baik"))

	require.NoError(t, first(locator.Locator{By: locator.ByXPath, Pattern: "//button[contains(text(), 'Kirim')]"}).DispatchClick(ctx))

	assert.Equal(t, "user1", received.Get("username"))
	assert.Equal(t, "pass1", received.Get("password"))
	assert.Equal(t, "Setuju", received.Get("q1"))
	assert.Equal(t, "baik", received.Get("notes"))
	assert.Equal(t, "b", received.Get("branch"))
	assert.Equal(t, "t0k", received.Get("token"))
	assert.Equal(t, "kirim", received.Get("action"))
	assert.Empty(t, received.Get("agree"), "unchecked checkbox is not submitted")

	done := first(locator.Locator{By: locator.ByID, Pattern: "done"})
	text, err := done.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Terima kasih", text)

	current, err := session.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/submit", current)
}

func TestStaticSession_LinkNavigates(t *testing.T) {
	var received url.Values
	srv := newFormServer(t, &received)
	session := openStatic(t, srv.URL)
	ctx := context.Background()

	links, err := session.Locate(ctx, locator.Locator{By: locator.ByCSS, Pattern: ".logout"})
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.NoError(t, links[0].Click(ctx))

	current, err := session.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/next", current)
}

func TestStaticSession_Errors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	session, err := NewStaticBrowser(Options{}).Open(context.Background())
	require.NoError(t, err)

	assert.Error(t, session.Navigate(context.Background(), srv.URL))

	elements, err := session.Locate(context.Background(), locator.Locator{By: locator.ByCSS, Pattern: "input"})
	require.NoError(t, err)
	assert.Empty(t, elements, "nothing is loaded yet")

	require.NoError(t, session.Close())
	assert.ErrorIs(t, session.Navigate(context.Background(), srv.URL), ErrSessionClosed)
	_, err = session.URL(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestNew(t *testing.T) {
	b, err := New(Options{Driver: DriverStatic})
	require.NoError(t, err)
	assert.IsType(t, &StaticBrowser{}, b)

	b, err = New(Options{Driver: DriverChrome})
	require.NoError(t, err)
	assert.IsType(t, &ChromeBrowser{}, b)

	_, err = New(Options{Driver: "selenium"})
	assert.Error(t, err)
}
