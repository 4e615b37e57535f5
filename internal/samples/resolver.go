package samples

import (
	"context"

	"github.com/FairForge/samplehub/internal/drivers"
	"github.com/FairForge/samplehub/internal/imaging"
)

var rasterExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// IsRasterLocator reports whether locator names a .png, .jpg or .jpeg file.
func IsRasterLocator(locator string) bool {
	return rasterExts[drivers.Ext(locator)]
}

// Resolver turns persisted descriptors into signed image URLs.
type Resolver struct {
	router Router
}

// NewResolver creates a resolver
func NewResolver(router Router) *Resolver {
	return &Resolver{router: router}
}

// Images returns the signed URLs of a sample's images. For 3D samples only
// slices in [offset, min(count, offset+limit)) are returned; a nil limit
// means up to count.
func (r *Resolver) Images(ctx context.Context, info Info, limit *int, offset int) ([]string, error) {
	offset = max(offset, 0)

	if img := info.Image; img != nil {
		if img.URL == "" {
			return nil, ErrMissingField.New("image.url")
		}
		switch img.Type {
		case imaging.Type2D:
			u, err := r.sign(ctx, imaging.SingleLocator(img.URL))
			if err != nil {
				return nil, err
			}
			return []string{u}, nil
		case imaging.Type3D:
			if img.Count == nil {
				return nil, ErrMissingField.New("image.count")
			}
			upper := *img.Count
			if limit != nil && *limit < upper-offset {
				upper = offset + max(*limit, 0)
			}
			urls := make([]string, 0, max(upper-offset, 0))
			for i := offset; i < upper; i++ {
				u, err := r.sign(ctx, imaging.SliceLocator(img.URL, i))
				if err != nil {
					return nil, err
				}
				urls = append(urls, u)
			}
			return urls, nil
		case imaging.TypeFromData:
			u, err := r.sign(ctx, img.URL)
			if err != nil {
				return nil, err
			}
			return []string{u}, nil
		default:
			return nil, ErrUnsupportedImage.New("%q", img.Type)
		}
	}

	if info.Data == nil {
		return nil, ErrMissingField.New("data.url")
	}
	if IsRasterLocator(info.Data.URL) {
		u, err := r.sign(ctx, info.Data.URL)
		if err != nil {
			return nil, err
		}
		return []string{u}, nil
	}
	return []string{}, nil
}

// Gallery returns the first image of each sample, or nil where a sample
// has no image, lacks the fields to resolve one or has a type that cannot
// be served.
func (r *Resolver) Gallery(ctx context.Context, infos []Info) ([]*string, error) {
	one := 1
	out := make([]*string, len(infos))
	for i, info := range infos {
		urls, err := r.Images(ctx, info, &one, 0)
		if err != nil {
			if ErrMissingField.Has(err) || ErrUnsupportedImage.Has(err) {
				continue
			}
			return nil, err
		}
		if len(urls) > 0 {
			out[i] = &urls[0]
		}
	}
	return out, nil
}

func (r *Resolver) sign(ctx context.Context, locator string) (string, error) {
	d, err := r.router.For(ctx, locator)
	if err != nil {
		return "", err
	}
	return d.SignedURL(ctx, locator)
}
