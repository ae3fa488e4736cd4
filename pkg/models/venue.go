package models

import "time"

// VenueImage is one entry of a venue's image list. URL identifies the image.
type VenueImage struct {
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Venue is a physical place that hosts events.
type Venue struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Address   *string      `json:"address,omitempty"`
	Postcode  *string      `json:"postcode,omitempty"`
	Latitude  *float64     `json:"latitude,omitempty"`
	Longitude *float64     `json:"longitude,omitempty"`
	PlaceID   *string      `json:"place_id,omitempty"`
	CityID    *int64       `json:"city_id,omitempty"`
	Slug      *string      `json:"slug,omitempty"`
	Images    []VenueImage `json:"images,omitempty"`
	DeletedAt *time.Time   `json:"deleted_at,omitempty"`
	DeletedBy *string      `json:"deleted_by,omitempty"`
	// MergedIntoID points at the surviving venue after a merge. Lookup only.
	MergedIntoID *int64    `json:"merged_into_id,omitempty"`
	InsertedAt   time.Time `json:"inserted_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (v *Venue) IsDeleted() bool {
	return v.DeletedAt != nil
}

func (v *Venue) HasCoordinates() bool {
	return v.Latitude != nil && v.Longitude != nil
}

// Clone returns a deep copy so callers can mutate fields without aliasing.
func (v *Venue) Clone() *Venue {
	if v == nil {
		return nil
	}
	c := *v
	c.Address = clonePtr(v.Address)
	c.Postcode = clonePtr(v.Postcode)
	c.Latitude = clonePtr(v.Latitude)
	c.Longitude = clonePtr(v.Longitude)
	c.PlaceID = clonePtr(v.PlaceID)
	c.CityID = clonePtr(v.CityID)
	c.Slug = clonePtr(v.Slug)
	c.DeletedAt = clonePtr(v.DeletedAt)
	c.DeletedBy = clonePtr(v.DeletedBy)
	c.MergedIntoID = clonePtr(v.MergedIntoID)
	if v.Images != nil {
		c.Images = append([]VenueImage(nil), v.Images...)
	}
	return &c
}

// VenueUpdate carries the metadata columns a merge rewrites. Nil leaves a column untouched.
type VenueUpdate struct {
	Name      *string
	Address   *string
	Postcode  *string
	Latitude  *float64
	Longitude *float64
	PlaceID   *string
	CityID    *int64
	Slug      *string
	Images    *[]VenueImage
}

func (u VenueUpdate) IsEmpty() bool {
	return u.Name == nil && u.Address == nil && u.Postcode == nil && u.Latitude == nil &&
		u.Longitude == nil && u.PlaceID == nil && u.CityID == nil && u.Slug == nil && u.Images == nil
}

// Apply writes the non-nil fields of u onto v.
func (u VenueUpdate) Apply(v *Venue) {
	if u.Name != nil {
		v.Name = *u.Name
	}
	if u.Address != nil {
		v.Address = clonePtr(u.Address)
	}
	if u.Postcode != nil {
		v.Postcode = clonePtr(u.Postcode)
	}
	if u.Latitude != nil {
		v.Latitude = clonePtr(u.Latitude)
	}
	if u.Longitude != nil {
		v.Longitude = clonePtr(u.Longitude)
	}
	if u.PlaceID != nil {
		v.PlaceID = clonePtr(u.PlaceID)
	}
	if u.CityID != nil {
		v.CityID = clonePtr(u.CityID)
	}
	if u.Slug != nil {
		v.Slug = clonePtr(u.Slug)
	}
	if u.Images != nil {
		v.Images = append([]VenueImage(nil), (*u.Images)...)
	}
}

// VenueFilter scopes a venue scan.
type VenueFilter struct {
	CityID         *int64
	IncludeDeleted bool
	ExcludeID      int64
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns the value behind p or the zero value.
func Deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
