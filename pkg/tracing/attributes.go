package tracing

import "go.opentelemetry.io/otel/attribute"

// Attribute keys
const (
	// MCP tool attributes
	AttrMCPToolName     = "mcp.tool.name"
	AttrMCPToolStatus   = "mcp.tool.status"
	AttrMCPToolDuration = "mcp.tool.duration_ms"
	AttrMCPResultSize   = "mcp.tool.result_size"

	// External service attributes
	AttrServiceName      = "pottypal.service.name"
	AttrServiceOperation = "pottypal.service.operation"
	AttrServiceURL       = "pottypal.service.url"
	AttrServiceStatus    = "pottypal.service.status"

	// Cache attributes
	AttrCacheTier = "pottypal.cache.tier"
	AttrCacheHit  = "pottypal.cache.hit"
	AttrCacheKey  = "pottypal.cache.key"

	// Region attributes
	AttrRegionLatitude  = "pottypal.region.latitude"
	AttrRegionLongitude = "pottypal.region.longitude"
	AttrRegionRadius    = "pottypal.region.radius_m"
	AttrRequestID       = "pottypal.region.request_id"

	// Place pipeline attributes
	AttrPlaceCount = "pottypal.places.count"
	AttrTravelMode = "pottypal.travel.mode"

	// Rate limiting attributes
	AttrRateLimitService = "pottypal.ratelimit.service"
	AttrRateLimitWaitMs  = "pottypal.ratelimit.wait_ms"

	// HTTP attributes
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPPath       = "http.path"
	AttrHTTPRequestID  = "http.request_id"
	AttrHTTPSessionID  = "mcp.session.id"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Status values
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusRateLimited = "rate_limited"
)

// Service names
const (
	ServicePlaces         = "places"
	ServiceDistanceMatrix = "distance_matrix"
)

// MCPToolAttributes returns attributes for MCP tool execution
func MCPToolAttributes(toolName string, status string, durationMs int64, resultSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrMCPToolName, toolName),
		attribute.String(AttrMCPToolStatus, status),
		attribute.Int64(AttrMCPToolDuration, durationMs),
		attribute.Int(AttrMCPResultSize, resultSize),
	}
}

// ServiceAttributes returns attributes for external service calls.
// The url must not carry credentials.
func ServiceAttributes(service, operation, url string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrServiceName, service),
		attribute.String(AttrServiceOperation, operation),
		attribute.String(AttrServiceURL, url),
		attribute.Int(AttrServiceStatus, status),
	}
}

// CacheAttributes returns attributes for a place cache lookup.
func CacheAttributes(tier string, hit bool, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCacheTier, tier),
		attribute.Bool(AttrCacheHit, hit),
		attribute.String(AttrCacheKey, key),
	}
}

// RegionAttributes describes a search circle.
func RegionAttributes(lat, lng, radius float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64(AttrRegionLatitude, lat),
		attribute.Float64(AttrRegionLongitude, lng),
		attribute.Float64(AttrRegionRadius, radius),
	}
}

// ErrorAttributes returns attributes for errors
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, "error"),
		attribute.String(AttrErrorMessage, err.Error()),
	}
}
