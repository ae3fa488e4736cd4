package testsupport

import (
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
)

// SilentLogger discards every log message.
func SilentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// VenueOption customises a fixture venue.
type VenueOption func(*models.Venue)

func NewVenue(name string, opts ...VenueOption) *models.Venue {
	v := &models.Venue{Name: name}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func WithID(id int64) VenueOption {
	return func(v *models.Venue) { v.ID = id }
}

func WithPostcode(pc string) VenueOption {
	return func(v *models.Venue) { v.Postcode = &pc }
}

func WithAddress(addr string) VenueOption {
	return func(v *models.Venue) { v.Address = &addr }
}

func WithCoordinates(lat, lon float64) VenueOption {
	return func(v *models.Venue) {
		v.Latitude = &lat
		v.Longitude = &lon
	}
}

func WithPlaceID(id string) VenueOption {
	return func(v *models.Venue) { v.PlaceID = &id }
}

func WithCity(id int64) VenueOption {
	return func(v *models.Venue) { v.CityID = &id }
}

func WithSlug(slug string) VenueOption {
	return func(v *models.Venue) { v.Slug = &slug }
}

func WithImages(urls ...string) VenueOption {
	return func(v *models.Venue) {
		for _, u := range urls {
			v.Images = append(v.Images, models.VenueImage{URL: u})
		}
	}
}

func Deleted() VenueOption {
	return func(v *models.Venue) {
		at := time.Now().UTC()
		v.DeletedAt = &at
	}
}
