package classifier

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/utils"
)

// Result is the outcome of following a reference until it names a fetchable resource.
type Result struct {
	URL         string
	Kind        domain.Kind
	ContentType string
	Status      int
	Hops        int
	// Candidates holds the ranked media URLs found in the last indirection body.
	Candidates []string
}

type Resolver struct {
	client utils.HTTPDoer
	policy Policy
}

func NewResolver(client utils.HTTPDoer, policy Policy) *Resolver {
	if policy.MaxHops <= 0 {
		policy.MaxHops = DefaultPolicy().MaxHops
	}
	if policy.MaxBody <= 0 {
		policy.MaxBody = DefaultPolicy().MaxBody
	}
	if policy.ExtensionRank == nil {
		policy.ExtensionRank = DefaultPolicy().ExtensionRank
	}
	return &Resolver{client: client, policy: policy}
}

func (r *Resolver) Policy() Policy {
	return r.policy
}

// Resolve fetches rawURL and classifies it, re-running classification on the chosen
// candidate whenever the answer is an indirection document.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*Result, error) {
	current := rawURL
	var candidates []string
	for hop := 0; hop <= r.policy.MaxHops; hop++ {
		resp, err := r.inspect(ctx, current)
		if err != nil {
			return &Result{URL: current, Hops: hop, Candidates: candidates}, err
		}
		kind := Classify(*resp)
		log.Debug().Str("op", "classifier/resolve").Msgf("Classified %s as %s (status %d, %q)", current, kind, resp.Status, resp.ContentType)
		if kind == domain.KindDirect && IsPage(*resp) {
			return &Result{URL: current, Kind: kind, ContentType: resp.ContentType, Status: resp.Status, Hops: hop, Candidates: candidates},
				domain.Fail(domain.ErrClassification, "classifier/resolve", fmt.Errorf("%s is a page, not media", current))
		}
		if kind != domain.KindIndirection {
			return &Result{
				URL:         current,
				Kind:        kind,
				ContentType: resp.ContentType,
				Status:      resp.Status,
				Hops:        hop,
				Candidates:  candidates,
			}, nil
		}
		candidates = Rank(ExtractCandidates(resp.Body, r.policy), r.policy)
		if len(candidates) == 0 {
			return &Result{URL: current, Kind: kind, Status: resp.Status, Hops: hop},
				domain.Fail(domain.ErrClassification, "classifier/resolve", fmt.Errorf("no media candidates in %s", current))
		}
		log.Debug().Str("op", "classifier/resolve").Msgf("Chose %s out of %d candidates", candidates[0], len(candidates))
		current = candidates[0]
	}
	return &Result{URL: current, Kind: domain.KindIndirection, Candidates: candidates},
		domain.Fail(domain.ErrClassification, "classifier/resolve", fmt.Errorf("indirection deeper than %d hops", r.policy.MaxHops))
}

func (r *Resolver) inspect(ctx context.Context, rawURL string) (*Response, error) {
	resp, err := utils.Get(ctx, r.client, rawURL, nil)
	if err != nil {
		return nil, domain.Fail(domain.ErrClassification, "classifier/inspect", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, domain.Fail(domain.ErrClassification, "classifier/inspect", fmt.Errorf("%s returned status %d", rawURL, resp.StatusCode))
	}
	out := &Response{
		URL:         rawURL,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		out.URL = resp.Request.URL.String()
	}
	out.Body, err = io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return nil, domain.Fail(domain.ErrClassification, "classifier/inspect", err)
	}
	if Classify(*out) == domain.KindIndirection && int64(len(out.Body)) == 512 {
		rest, err := io.ReadAll(io.LimitReader(resp.Body, r.policy.MaxBody-512))
		if err != nil {
			return nil, domain.Fail(domain.ErrClassification, "classifier/inspect", err)
		}
		out.Body = append(out.Body, rest...)
	}
	return out, nil
}
