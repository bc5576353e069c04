package services

import (
	"strings"

	"github.com/kendall-kelly/atelier-market-api/models"
)

// MapCourierStatusToDeliveryStatus folds a vendor status into the three
// internal delivery states. "deliver" wins over "transit"/"shipped", so
// "out for delivery" maps to delivered.
func MapCourierStatusToDeliveryStatus(status string) models.DeliveryStatus {
	s := strings.ToLower(status)
	switch {
	case strings.Contains(s, "deliver"):
		return models.DeliveryDelivered
	case strings.Contains(s, "transit"), strings.Contains(s, "shipped"):
		return models.DeliveryInTransit
	default:
		return models.DeliveryNotShipped
	}
}
