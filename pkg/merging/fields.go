package merging

import (
	"reflect"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/Ramsey-B/clover/pkg/models"
)

type fieldKind int

const (
	textField fieldKind = iota
	numericField
	slugField
	imagesField
)

// fieldSpec reads and writes one mergeable venue column. get returns nil when unset.
type fieldSpec struct {
	name string
	kind fieldKind
	get  func(v *models.Venue) any
	set  func(u *models.VenueUpdate, value any)
}

var mergeableFields = []fieldSpec{
	{
		name: FieldName,
		kind: textField,
		get: func(v *models.Venue) any {
			if strings.TrimSpace(v.Name) == "" {
				return nil
			}
			return v.Name
		},
		set: func(u *models.VenueUpdate, value any) { u.Name = models.Ptr(value.(string)) },
	},
	{
		name: FieldAddress,
		kind: textField,
		get:  func(v *models.Venue) any { return textValue(v.Address) },
		set:  func(u *models.VenueUpdate, value any) { u.Address = models.Ptr(value.(string)) },
	},
	{
		name: FieldPostcode,
		kind: textField,
		get:  func(v *models.Venue) any { return textValue(v.Postcode) },
		set:  func(u *models.VenueUpdate, value any) { u.Postcode = models.Ptr(value.(string)) },
	},
	{
		name: FieldLatitude,
		kind: numericField,
		get:  func(v *models.Venue) any { return ptrValue(v.Latitude) },
		set:  func(u *models.VenueUpdate, value any) { u.Latitude = models.Ptr(value.(float64)) },
	},
	{
		name: FieldLongitude,
		kind: numericField,
		get:  func(v *models.Venue) any { return ptrValue(v.Longitude) },
		set:  func(u *models.VenueUpdate, value any) { u.Longitude = models.Ptr(value.(float64)) },
	},
	{
		name: FieldPlaceID,
		kind: textField,
		get:  func(v *models.Venue) any { return textValue(v.PlaceID) },
		set:  func(u *models.VenueUpdate, value any) { u.PlaceID = models.Ptr(value.(string)) },
	},
	{
		name: FieldSlug,
		kind: slugField,
		get:  func(v *models.Venue) any { return textValue(v.Slug) },
		set:  func(u *models.VenueUpdate, value any) { u.Slug = models.Ptr(value.(string)) },
	},
	{
		name: FieldCityID,
		kind: numericField,
		get:  func(v *models.Venue) any { return ptrValue(v.CityID) },
		set:  func(u *models.VenueUpdate, value any) { u.CityID = models.Ptr(value.(int64)) },
	},
	{
		name: FieldImages,
		kind: imagesField,
		get: func(v *models.Venue) any {
			if len(v.Images) == 0 {
				return nil
			}
			return slices.Clone(v.Images)
		},
		set: func(u *models.VenueUpdate, value any) {
			images := value.([]models.VenueImage)
			u.Images = &images
		},
	},
}

// IsMergeableField reports whether name identifies a field a merge may rewrite.
func IsMergeableField(name string) bool {
	for _, f := range mergeableFields {
		if f.name == name {
			return true
		}
	}
	return false
}

func textValue(p *string) any {
	if p == nil || strings.TrimSpace(*p) == "" {
		return nil
	}
	return *p
}

func ptrValue[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// MetadataPlan is the outcome of merging secondary's metadata onto primary.
type MetadataPlan struct {
	Update  models.VenueUpdate
	Changes map[string]models.FieldChange
	Fields  []string
}

func (p MetadataPlan) HasChanges() bool {
	return len(p.Fields) > 0
}

// planMetadata computes the primary's new metadata. Only fields whose value differs
// from the primary's current value appear in the plan.
func planMetadata(primary, secondary *models.Venue, opts MergeOptions) MetadataPlan {
	plan := MetadataPlan{Changes: map[string]models.FieldChange{}}

	for _, f := range mergeableFields {
		current := f.get(primary)
		incoming := f.get(secondary)

		next := chooseValue(f, current, incoming, opts)
		if next == nil || reflect.DeepEqual(current, next) {
			continue
		}

		f.set(&plan.Update, next)
		plan.Changes[f.name] = models.FieldChange{From: current, To: next}
		plan.Fields = append(plan.Fields, f.name)
	}

	return plan
}

func chooseValue(f fieldSpec, current, incoming any, opts MergeOptions) any {
	if incoming == nil {
		return current
	}

	switch opts.MetadataStrategy {
	case MetadataPreferSecondary:
		return incoming
	case MetadataPreferPrimary:
		if opts.overrides(f.name) {
			return incoming
		}
		return current
	}

	if opts.overrides(f.name) || current == nil {
		return incoming
	}

	switch f.kind {
	case imagesField:
		return unionImages(current.([]models.VenueImage), incoming.([]models.VenueImage))
	case slugField:
		if SlugScore(incoming.(string)) > SlugScore(current.(string)) {
			return incoming
		}
		return current
	case textField:
		if utf8.RuneCountInString(incoming.(string)) > utf8.RuneCountInString(current.(string)) {
			return incoming
		}
		return current
	default:
		return current
	}
}

// unionImages keeps primary's images in order and appends secondary images with new URLs.
func unionImages(primary, secondary []models.VenueImage) []models.VenueImage {
	seen := make(map[string]struct{}, len(primary)+len(secondary))
	out := make([]models.VenueImage, 0, len(primary)+len(secondary))
	for _, list := range [][]models.VenueImage{primary, secondary} {
		for _, img := range list {
			if _, ok := seen[img.URL]; ok {
				continue
			}
			seen[img.URL] = struct{}{}
			out = append(out, img)
		}
	}
	return out
}

// MetadataConflicts lists the fields where both venues hold different non-empty values.
func MetadataConflicts(primary, secondary *models.Venue) []FieldConflict {
	conflicts := make([]FieldConflict, 0)
	for _, f := range mergeableFields {
		a, b := f.get(primary), f.get(secondary)
		if a == nil || b == nil || reflect.DeepEqual(a, b) {
			continue
		}
		conflicts = append(conflicts, FieldConflict{Field: f.name, PrimaryValue: a, SecondaryValue: b})
	}
	return conflicts
}

// FieldConflict is one field both venues disagree on.
type FieldConflict struct {
	Field          string `json:"field"`
	PrimaryValue   any    `json:"primary_value"`
	SecondaryValue any    `json:"secondary_value"`
}

var numericSuffix = regexp.MustCompile(`-\d+$`)

const maxSlugHyphens = 6

// SlugScore rates a slug: shorter is better, a trailing "-<digits>" costs 20
// and more than six hyphens costs 10.
func SlugScore(slug string) int {
	score := 100 - utf8.RuneCountInString(slug)
	if numericSuffix.MatchString(slug) {
		score -= 20
	}
	if strings.Count(slug, "-") > maxSlugHyphens {
		score -= 10
	}
	return score
}

// cleanSlug reports whether slug earns the primary-selection quality bonus.
func cleanSlug(slug *string) bool {
	if slug == nil || *slug == "" {
		return false
	}
	return !numericSuffix.MatchString(*slug) && strings.Count(*slug, "-") <= maxSlugHyphens
}
