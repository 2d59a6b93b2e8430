package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"brand-catalog/internal/content"
)

type File struct {
	Brands []content.Brand `yaml:"brands"`
}

// BrandWriter is satisfied by storage.Store.
type BrandWriter interface {
	UpsertBrand(ctx context.Context, b content.Brand) error
}

// Load reads a brand file. Every brand needs an id and a name, and ids are unique.
func Load(path string) ([]content.Brand, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file %s: %w", path, err)
	}
	defer f.Close()

	var out File
	if err := yaml.NewDecoder(f).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode seed file %s: %w", path, err)
	}

	seen := map[string]bool{}
	for i, b := range out.Brands {
		b.ID = strings.TrimSpace(b.ID)
		switch {
		case b.ID == "":
			return nil, fmt.Errorf("brand #%d: missing id", i+1)
		case strings.TrimSpace(b.Name) == "":
			return nil, fmt.Errorf("brand %s: missing name", b.ID)
		case seen[b.ID]:
			return nil, fmt.Errorf("brand %s: duplicate id", b.ID)
		}
		seen[b.ID] = true
		out.Brands[i] = b
	}
	return out.Brands, nil
}

// Apply upserts brands in file order.
func Apply(ctx context.Context, w BrandWriter, brands []content.Brand) error {
	for _, b := range brands {
		if err := w.UpsertBrand(ctx, b); err != nil {
			return err
		}
		log.Info().Str("brand_id", b.ID).Str("name", b.Name).Msg("brand seeded")
	}
	return nil
}
