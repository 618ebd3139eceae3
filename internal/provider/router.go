package provider

import (
	"context"
	"strings"

	"github.com/openpipe/completions-gateway/internal/auth"
	"github.com/openpipe/completions-gateway/internal/gwerr"
)

// CustomModelStore is the read-only lookup contract for deployed custom
// models. Lookup returns (nil, nil) when no model matches the slug.
type CustomModelStore interface {
	LookupCustomModel(ctx context.Context, slug string) (*CustomModelRecord, error)
}

// Router decides, from the requested model identifier, whether a call goes
// to the custom model provider or the upstream provider, and performs the
// dispatch. Ownership is checked before any provider call so a
// cross-project completion can never leak.
type Router struct {
	Models   CustomModelStore
	Custom   *CustomProvider
	Upstream *UpstreamProvider
}

// Dispatch routes one request. For custom models it also returns the
// resolved record so downstream stages can use its cost basis and slug; the
// record is withheld on ownership failures.
func (r *Router) Dispatch(ctx context.Context, caller auth.Caller, req *Request) (*Outcome, *CustomModelRecord, error) {
	slug, isCustom := strings.CutPrefix(req.Model, CustomModelPrefix)
	if !isCustom {
		// Upstream identifiers are forwarded verbatim; the upstream
		// provider enforces its own authorization.
		outcome, err := r.Upstream.Invoke(ctx, req)
		return outcome, nil, err
	}

	rec, err := r.Models.LookupCustomModel(ctx, slug)
	if err != nil {
		return nil, nil, gwerr.BadRequest("model lookup failed: %s", err)
	}
	if rec == nil {
		return nil, nil, gwerr.NotFound("model %q was not found", req.Model)
	}
	if rec.ProjectID != caller.ProjectID {
		return nil, nil, gwerr.Forbidden("model %q does not belong to this project", req.Model)
	}
	if !rec.Ready {
		return nil, rec, gwerr.BadRequest("model %q is not deployed", req.Model)
	}

	outcome, err := r.Custom.Invoke(ctx, rec, req)
	return outcome, rec, err
}
