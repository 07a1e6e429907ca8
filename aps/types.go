package aps

import "encoding/json"

// Bucket is an OSS bucket as listed or created upstream.
type Bucket struct {
	BucketKey   string `json:"bucketKey"`
	BucketOwner string `json:"bucketOwner,omitempty"`
	CreatedDate int64  `json:"createdDate"`
	PolicyKey   string `json:"policyKey"`
}

// Object is an OSS object's metadata.
type Object struct {
	BucketKey    string `json:"bucketKey"`
	ObjectKey    string `json:"objectKey"`
	ObjectID     string `json:"objectId"`
	SHA1         string `json:"sha1,omitempty"`
	Size         int64  `json:"size"`
	ContentType  string `json:"contentType,omitempty"`
	Location     string `json:"location,omitempty"`
	LastModified int64  `json:"lastModified,omitempty"`
}

type bucketsPage struct {
	Items []Bucket `json:"items"`
	Next  string   `json:"next"`
}

// ObjectsPage is a single page of an object listing.
type ObjectsPage struct {
	Items []Object `json:"items"`
	Next  string   `json:"next"`
}

// NextStartAt returns the cursor for the following page, if any.
func (p ObjectsPage) NextStartAt() (string, bool) {
	return startAtFromNext(p.Next)
}

// Policy keys accepted by bucket creation.
const (
	PolicyTransient  = "transient"
	PolicyTemporary  = "temporary"
	PolicyPersistent = "persistent"
)

// Output views and formats for translation jobs.
const (
	View2D     = "2d"
	View3D     = "3d"
	OutputSVF2 = "svf2"
)

// JobInput is the source section of a translation job.
type JobInput struct {
	URN           string `json:"urn"`
	CompressedURN bool   `json:"compressedUrn,omitempty"`
	RootFilename  string `json:"rootFilename,omitempty"`
	SwitchLoader  bool   `json:"switchLoader,omitempty"`
}

// JobFormat is one requested output format.
type JobFormat struct {
	Type  string   `json:"type"`
	Views []string `json:"views"`
}

// JobPayload is the body of a translation job request.
type JobPayload struct {
	Input  JobInput `json:"input"`
	Output struct {
		Formats []JobFormat `json:"formats"`
	} `json:"output"`
}

// Job is the response to a translation request.
type Job struct {
	Result string `json:"result"`
	URN    string `json:"urn"`
}

// Message is a translation diagnostic attached to a manifest derivative.
type Message struct {
	Type    string          `json:"type,omitempty"`
	Code    string          `json:"code,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// ManifestChild is a nested derivative node.
type ManifestChild struct {
	GUID     string          `json:"guid,omitempty"`
	Type     string          `json:"type,omitempty"`
	Role     string          `json:"role,omitempty"`
	Name     string          `json:"name,omitempty"`
	Status   string          `json:"status,omitempty"`
	Progress string          `json:"progress,omitempty"`
	Messages []Message       `json:"messages,omitempty"`
	Children []ManifestChild `json:"children,omitempty"`
}

// Derivative is one output of a translation.
type Derivative struct {
	Name       string          `json:"name,omitempty"`
	OutputType string          `json:"outputType,omitempty"`
	Status     string          `json:"status"`
	Progress   string          `json:"progress,omitempty"`
	Messages   []Message       `json:"messages,omitempty"`
	Children   []ManifestChild `json:"children,omitempty"`
}

// Manifest is the upstream translation status record.
type Manifest struct {
	Type         string       `json:"type,omitempty"`
	URN          string       `json:"urn"`
	HasThumbnail string       `json:"hasThumbnail,omitempty"`
	Progress     string       `json:"progress"`
	Region       string       `json:"region,omitempty"`
	Status       string       `json:"status"`
	Derivatives  []Derivative `json:"derivatives,omitempty"`
}

// UserProfile is the subset of the userinfo claims the viewer uses.
type UserProfile struct {
	Subject           string `json:"sub"`
	Name              string `json:"name"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

// Resource is a JSON:API record returned by the data management API.
type Resource struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		CreateTime  string `json:"createTime"`
	} `json:"attributes"`
}
