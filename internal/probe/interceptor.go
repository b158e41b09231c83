package probe

import (
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/classifier"
)

// Interceptor wraps a RoundTripper and reports every response that carries a media signature.
type Interceptor struct {
	next    http.RoundTripper
	context string
	report  func(Observation)
}

// Intercept returns a wrapper suitable for utils.SiphonHTTPClient.Intercept.
func Intercept(contextName string, report func(Observation)) func(http.RoundTripper) http.RoundTripper {
	return func(next http.RoundTripper) http.RoundTripper {
		return &Interceptor{next: next, context: contextName, report: report}
	}
}

func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	log.Debug().Str("op", "probe/interceptor").Msgf("[%s] %s %s", i.context, req.Method, req.URL)
	resp, err := i.next.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	ct := resp.Header.Get("Content-Type")
	target := req.URL.String()
	if classifier.MatchesMediaSignature(target, ct) {
		log.Debug().Str("op", "probe/interceptor").Msgf("[%s] media response %s (%s, %d)", i.context, target, ct, resp.StatusCode)
		if i.report != nil {
			i.report(Observation{URL: target, ContentType: ct, Status: resp.StatusCode, Context: i.context})
		}
	}
	return resp, nil
}
