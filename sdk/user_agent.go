package sdk

import (
	"net/http"
)

var version = "0.1.0"

type userAgentInterceptor struct {
	http.RoundTripper
}

func OverrideUserAgent(transport http.RoundTripper) http.RoundTripper {
	return &userAgentInterceptor{RoundTripper: transport}
}

func (i *userAgentInterceptor) RoundTrip(r *http.Request) (*http.Response, error) {
	r.Header.Set("User-Agent", "ConfigCat-Experiment-Hook/"+version)
	r.Header.Set("X-ConfigCat-UserAgent", "ConfigCat-Experiment-Hook/"+version)
	return i.RoundTripper.RoundTrip(r)
}
