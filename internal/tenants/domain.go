// Package tenants holds the franchise directory.
package tenants

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

const maxSlugLength = 64

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Franchise is one tenant.
type Franchise struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"displayName"`
	Slug        string    `json:"slug"`
	Address     *string   `json:"address,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CreateInput describes a new franchise. Slug is derived from DisplayName
// when empty.
type CreateInput struct {
	DisplayName string
	Slug        string
	Address     *string
}

// Normalize trims fields and fills the slug.
func (in *CreateInput) Normalize() {
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Slug = strings.TrimSpace(in.Slug)
	if in.Slug == "" {
		in.Slug = Slugify(in.DisplayName)
	}
	in.Address = trimOptional(in.Address)
}

// Validate checks the input after normalisation.
func (in CreateInput) Validate() error {
	if in.DisplayName == "" {
		return fmt.Errorf("tenants: display name required: %w", shared.ErrInvalidArgument)
	}
	return ValidateSlug(in.Slug)
}

// UpdateInput carries the editable fields. Nil fields are left unchanged;
// an empty Address clears it.
type UpdateInput struct {
	DisplayName *string
	Slug        *string
	Address     *string
}

// Apply returns f with the update applied.
func (in UpdateInput) Apply(f Franchise) (Franchise, error) {
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			return Franchise{}, fmt.Errorf("tenants: display name required: %w", shared.ErrInvalidArgument)
		}
		f.DisplayName = name
	}
	if in.Slug != nil {
		slug := strings.TrimSpace(*in.Slug)
		if err := ValidateSlug(slug); err != nil {
			return Franchise{}, err
		}
		f.Slug = slug
	}
	if in.Address != nil {
		f.Address = trimOptional(in.Address)
	}
	return f, nil
}

// ValidateSlug checks the URL-safe form.
func ValidateSlug(slug string) error {
	if slug == "" || len(slug) > maxSlugLength || !slugPattern.MatchString(slug) {
		return fmt.Errorf("tenants: slug %q must be lowercase letters, digits and single hyphens: %w", slug, shared.ErrInvalidArgument)
	}
	return nil
}

// Slugify derives a URL-safe slug, folding diacritics ("Café Sentosa" -> "cafe-sentosa").
func Slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			if b.Len() >= maxSlugLength {
				break
			}
			continue
		}
		pendingDash = true
	}
	return strings.TrimRight(b.String(), "-")
}

// DeleteReport counts the rows removed by a cascading franchise deletion.
type DeleteReport struct {
	FranchiseID        uuid.UUID `json:"franchiseId"`
	WorkerIncome       int64     `json:"workerIncome"`
	Workers            int64     `json:"workers"`
	AdminIncome        int64     `json:"adminIncome"`
	Expenses           int64     `json:"expenses"`
	ProfitShareRecords int64     `json:"profitShareRecords"`
	RoleBindings       int64     `json:"roleBindings"`
	Overrides          int64     `json:"overrides"`
	// UnboundPrincipals lost their binding and fall back to the default role.
	UnboundPrincipals []string `json:"unboundPrincipals"`
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
