package status

import (
	"fmt"
	"net/http"
)

type clientInterceptor struct {
	http.RoundTripper

	reporter Reporter
}

// InterceptSdk records the outcome of every ConfigCat CDN request made
// through transport as a status record of the SDK component.
func InterceptSdk(reporter Reporter, transport http.RoundTripper) http.RoundTripper {
	return &clientInterceptor{reporter: reporter, RoundTripper: transport}
}

func (i *clientInterceptor) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := i.RoundTripper.RoundTrip(r)
	if err != nil {
		i.reporter.ReportError(Sdk, "config fetch failed")
	} else {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			i.reporter.ReportOk(Sdk, "config fetched")
		} else if resp.StatusCode == http.StatusNotModified {
			i.reporter.ReportOk(Sdk, "config not modified")
		} else {
			i.reporter.ReportError(Sdk, fmt.Sprintf("unexpected response received: %s", resp.Status))
		}
	}
	return resp, err
}
