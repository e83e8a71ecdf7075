package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"resty.dev/v3"

	"github.com/tagwatch/tagwatch/internal/logging"
	"github.com/tagwatch/tagwatch/internal/model"
)

const (
	// PageSize is the n parameter sent on every tags/list request.
	PageSize = 1500
	// FullPageThreshold is the page length at which a page is assumed
	// truncated and the next page is requested.
	FullPageThreshold = 1000
	// MaxAttempts bounds the number of pages fetched for one image.
	MaxAttempts = 5
)

var ErrInvalidReference = fmt.Errorf("%w: invalid image reference", model.ErrRegistry)

// TagResolver lists the candidate tags of the repository an image belongs to.
type TagResolver interface {
	ResolveTags(ctx context.Context, image string) ([]string, error)
}

type tagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

type Resolver struct {
	Timeout   time.Duration
	Keychain  authn.Keychain
	Transport http.RoundTripper
}

func NewResolver(timeout time.Duration) *Resolver {
	return &Resolver{
		Timeout:   timeout,
		Keychain:  authn.DefaultKeychain,
		Transport: http.DefaultTransport,
	}
}

// ResolveTags returns every tag of the image's repository, following the
// last-tag cursor while pages come back full. Any failed request fails the
// whole resolution.
func (r *Resolver) ResolveTags(ctx context.Context, image string) ([]string, error) {
	log := logging.GetLogger()

	ref, err := name.ParseReference(image)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidReference, image, err)
	}
	repo := ref.Context()

	auth, err := r.Keychain.Resolve(repo)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving credentials for %s: %w", model.ErrRegistry, repo, err)
	}
	rt, err := transport.NewWithContext(ctx, repo.Registry, auth, r.Transport, []string{repo.Scope(transport.PullScope)})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %w", model.ErrRegistry, repo.RegistryStr(), err)
	}

	client := resty.New().
		SetTransport(rt).
		SetTimeout(r.Timeout)
	defer client.Close()

	url := fmt.Sprintf("%s://%s/v2/%s/tags/list", repo.Scheme(), repo.RegistryStr(), repo.RepositoryStr())

	var tags []string
	cursor := ""
	for attempt := 1; ; attempt++ {
		page, err := fetchPage(ctx, client, url, cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: listing tags of %s: %w", model.ErrRegistry, repo, err)
		}
		tags = append(tags, page...)

		if len(page) < FullPageThreshold {
			return tags, nil
		}
		if attempt == MaxAttempts {
			log.Warnf("tag list of %s truncated after %d requests, returning %d tags", repo, MaxAttempts, len(tags))
			return tags, nil
		}
		cursor = maxTag(page)
	}
}

func fetchPage(ctx context.Context, client *resty.Client, url, cursor string) ([]string, error) {
	var page tagList
	req := client.R().
		SetContext(ctx).
		SetQueryParam("n", fmt.Sprint(PageSize)).
		SetResult(&page)
	if cursor != "" {
		req.SetQueryParam("last", cursor)
	}

	registryRequests.Inc()
	resp, err := req.Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, errors.New("unexpected status " + resp.Status())
	}
	return page.Tags, nil
}

func maxTag(tags []string) string {
	last := ""
	for _, t := range tags {
		if t > last {
			last = t
		}
	}
	return last
}
