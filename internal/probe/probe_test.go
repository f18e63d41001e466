package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pad(html string) string {
	return html + strings.Repeat("<!-- filler -->", 200)
}

func serve(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeDetectsRegistrationGate(t *testing.T) {
	t.Parallel()

	srv := serve(t, pad(`<html><body>
		<form method="post">
			<input type="email" name="work_email">
			<input type="text" name="company">
			<button type="submit">Request Access</button>
		</form>
	</body></html>`))

	prober := New(Config{}, nil)
	report, err := prober.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, ModeRegistration, report.Mode)
	assert.True(t, report.HasEmailField)
	assert.False(t, report.HasPasswordField)
	assert.Equal(t, http.StatusOK, report.StatusCode)
}

func TestProbeDetectsDocumentListing(t *testing.T) {
	t.Parallel()

	srv := serve(t, pad(`<html><body>
		<table>
			<tr><td><a href="/files/teaser.pdf">Teaser</a></td></tr>
			<tr><td><a href="/files/model.xlsx">Model</a></td></tr>
			<tr><td><a href="/files/cim" download>CIM</a></td></tr>
		</table>
	</body></html>`))

	prober := New(Config{}, nil)
	report, err := prober.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, ModeDocuments, report.Mode)
	assert.Equal(t, 3, report.DocumentLinks)
}

func TestProbeConsentMarkersForceRegistration(t *testing.T) {
	t.Parallel()

	srv := serve(t, pad(`<html><body>
		<form>
			<p>Please review the Confidentiality Agreement before continuing.</p>
			<input type="checkbox" id="agree"><label for="agree">I Agree</label>
			<a href="/files/teaser.pdf">Teaser</a>
		</form>
	</body></html>`))

	prober := New(Config{}, nil)
	report, err := prober.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, report.ConsentMarkers)
	assert.Equal(t, ModeRegistration, report.Mode)
}

func TestProbeSmallBodyIsUnknown(t *testing.T) {
	t.Parallel()

	srv := serve(t, `<html><body><div id="root"></div></body></html>`)

	prober := New(Config{}, nil)
	report, err := prober.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, ModeUnknown, report.Mode)
}

func TestStatusRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusRetryable(http.StatusForbidden))
	assert.True(t, StatusRetryable(http.StatusTooManyRequests))
	assert.True(t, StatusRetryable(http.StatusBadGateway))
	assert.True(t, StatusRetryable(0))
	assert.False(t, StatusRetryable(http.StatusNotFound))
	assert.False(t, StatusRetryable(http.StatusOK))
}
