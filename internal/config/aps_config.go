package config

import "strings"

const (
	apsClientIDVar       = "APS_CLIENT_ID"
	apsClientSecretVar   = "APS_CLIENT_SECRET"
	apsCallbackURLVar    = "APS_CALLBACK_URL"
	apsBaseURLVar        = "APS_BASE_URL"
	apsUserInfoURLVar    = "APS_USERINFO_URL"
	apsRegionVar         = "APS_REGION"
	apsBucketVar         = "APS_BUCKET"
	apsRateLimitVar      = "APS_RATE_LIMIT"
	internalScopesVar    = "INTERNAL_TOKEN_SCOPES"
	publicScopesVar      = "PUBLIC_TOKEN_SCOPES"
	defaultInternalScope = "data:read data:write data:create bucket:read bucket:create bucket:delete"
	defaultPublicScope   = "viewables:read"
)

type APSConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetCallbackURL() string
	GetAPSBaseURL() string
	GetUserInfoURL() string
	GetRegion() string
	GetDefaultBucket() string
	GetAPSRateLimit() int
	GetInternalScopes() []string
	GetPublicScopes() []string
}

type APS struct{ values }

var _ APSConfig = APS{}

func (a APS) GetClientID() string {
	return a.get(apsClientIDVar, "")
}

func (a APS) GetClientSecret() string {
	return a.get(apsClientSecretVar, "")
}

func (a APS) GetCallbackURL() string {
	return a.get(apsCallbackURLVar, "")
}

func (a APS) GetAPSBaseURL() string {
	return strings.TrimRight(a.get(apsBaseURLVar, "https://developer.api.autodesk.com"), "/")
}

func (a APS) GetUserInfoURL() string {
	return a.get(apsUserInfoURLVar, "https://api.userprofile.autodesk.com/userinfo")
}

func (a APS) GetRegion() string {
	return strings.ToUpper(a.get(apsRegionVar, "US"))
}

// GetDefaultBucket is only used by the deprecated single-bucket mode.
func (a APS) GetDefaultBucket() string {
	return a.get(apsBucketVar, "")
}

// GetAPSRateLimit is the outbound request budget per second.
func (a APS) GetAPSRateLimit() int {
	return a.getInt(apsRateLimitVar, 10)
}

func (a APS) GetInternalScopes() []string {
	return strings.Fields(a.get(internalScopesVar, defaultInternalScope))
}

func (a APS) GetPublicScopes() []string {
	return strings.Fields(a.get(publicScopesVar, defaultPublicScope))
}
