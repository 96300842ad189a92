package service

import (
	"context"
	"fmt"
	"time"

	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/model"
)

// Gate kinds accepted by Check.
const (
	KindPDF   = "pdf"
	KindBatch = "batch"
	KindImage = "image"
)

// Kinds lists every gate kind in display order.
var Kinds = []string{KindPDF, KindBatch, KindImage}

var kindNouns = map[string]string{
	KindPDF:   "PDF files",
	KindBatch: "files per batch",
	KindImage: "images",
}

// LicenseLister is the read-only view the gate needs.
type LicenseLister interface {
	ListLicenses(ctx context.Context, f config.LicenseFilter) ([]model.License, error)
}

// Gate turns license state into free-tier caps. It never writes.
type Gate struct {
	store LicenseLister
	now   func() time.Time
}

func NewGate(store LicenseLister, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{store: store, now: now}
}

// Limits returns unlimited caps when an active, unexpired paid license exists
// for email (any owner when email is empty), and the free caps otherwise.
func (g *Gate) Limits(ctx context.Context, email string) (model.Limits, error) {
	lics, err := g.store.ListLicenses(ctx, config.LicenseFilter{Email: email, ActiveOnly: true})
	if err != nil {
		return model.Limits{}, storeErr("list licenses", err)
	}
	now := g.now()
	for i := range lics {
		if lics[i].IsActive && !lics[i].Expired(now) && lics[i].IsPaid() {
			return model.ProLimits(lics[i].Type), nil
		}
	}
	return model.FreeLimits(), nil
}

// IsPro reports whether email holds an active, unexpired paid license.
func (g *Gate) IsPro(ctx context.Context, email string) (bool, error) {
	l, err := g.Limits(ctx, email)
	if err != nil {
		return false, err
	}
	return l.IsPro, nil
}

func (g *Gate) Features(ctx context.Context, email string) (model.FeatureStatus, error) {
	l, err := g.Limits(ctx, email)
	if err != nil {
		return model.FeatureStatus{}, err
	}
	return l.Features(), nil
}

// Check decides whether a bulk operation of count items of kind may run.
func (g *Gate) Check(ctx context.Context, email, kind string, count int) (model.Decision, error) {
	if count < 0 {
		return model.Decision{}, fmt.Errorf("%w: count must not be negative", ErrInvalidInput)
	}
	if _, ok := kindNouns[kind]; !ok {
		return model.Decision{}, fmt.Errorf("%w: unknown gate kind %q", ErrInvalidInput, kind)
	}
	l, err := g.Limits(ctx, email)
	if err != nil {
		return model.Decision{}, err
	}
	return Decide(l, kind, count), nil
}

// Decide applies limits to a request without touching the store.
func Decide(l model.Limits, kind string, count int) model.Decision {
	limit := model.Unlimited
	switch kind {
	case KindPDF:
		limit = l.MaxPDFFiles
	case KindBatch:
		limit = l.MaxBatchSize
	case KindImage:
		limit = l.MaxImages
	}
	d := model.Decision{Allowed: true, Kind: kind, Count: count, Limit: limit}
	if limit != model.Unlimited && count > limit {
		d.Allowed = false
		d.Reason = fmt.Sprintf("the free tier allows at most %d %s; upgrade to pro to process %d", limit, kindNouns[kind], count)
	}
	return d
}
