package services

var (
	trackingServiceInstance  *TrackingService
	analyticsServiceInstance *AnalyticsService
)

// InitTrackingService sets the tracking service used by the controllers
func InitTrackingService(s *TrackingService) *TrackingService {
	trackingServiceInstance = s
	return s
}

// GetTrackingService returns the initialized tracking service
func GetTrackingService() *TrackingService {
	return trackingServiceInstance
}

// InitAnalyticsService sets the analytics service used by the controllers
func InitAnalyticsService(s *AnalyticsService) *AnalyticsService {
	analyticsServiceInstance = s
	return s
}

// GetAnalyticsService returns the initialized analytics service
func GetAnalyticsService() *AnalyticsService {
	return analyticsServiceInstance
}

var messageServiceInstance *MessageService

// InitMessageService sets the message service used by the controllers
func InitMessageService(s *MessageService) *MessageService {
	messageServiceInstance = s
	return s
}

// GetMessageService returns the initialized message service
func GetMessageService() *MessageService {
	return messageServiceInstance
}
