package gateway

import (
	"context"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/jrsteele09/aps-viewer-server/aps"
	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
	"github.com/rs/zerolog/log"
)

// SupportedExtensions are the file types the derivative service can translate.
var SupportedExtensions = []string{
	".dwg", ".dwf", ".dwfx", ".ifc", ".rvt", ".nwd", ".nwc", ".nwf", ".3dm", ".3ds",
	".asm", ".catpart", ".catproduct", ".cgr", ".collaboration", ".dae", ".dgn", ".dlv3",
	".exp", ".f3d", ".fbx", ".g", ".gbxml", ".iam", ".idw", ".ige", ".iges", ".igs",
	".ipt", ".jt", ".max", ".model", ".neu", ".obj", ".prt", ".psm", ".rcp", ".sab",
	".sat", ".session", ".skp", ".sldasm", ".sldprt", ".smb", ".smt", ".ste", ".step",
	".stl", ".stp", ".wire", ".x_b", ".x_t", ".xas", ".xpr", ".zip",
}

// Object is a stored object as returned to the browser.
type Object struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	URN          string `json:"urn"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified,omitempty"`
}

func newObject(o aps.Object) Object {
	return Object{
		ID:           o.ObjectKey,
		Name:         o.ObjectKey,
		URN:          aps.Urnify(o.ObjectID),
		Size:         o.Size,
		LastModified: o.LastModified,
	}
}

// fileExtension returns the lowercased extension including the dot, or "" when
// the name has none.
func fileExtension(filename string) string {
	return strings.ToLower(path.Ext(filename))
}

// ValidateUpload checks filename against SupportedExtensions. Archives must
// name the entry point to translate.
func ValidateUpload(filename, zipEntrypoint string) error {
	if filename == "" {
		return apperrors.New(apperrors.ErrValidation, "The required field 'model-file' is missing.")
	}
	ext := fileExtension(filename)
	if !slices.Contains(SupportedExtensions, ext) {
		return apperrors.New(apperrors.ErrValidation, "Unsupported file type: %s. Supported types: %s", ext, strings.Join(SupportedExtensions, ", "))
	}
	if ext == ".zip" && zipEntrypoint == "" {
		return apperrors.New(apperrors.ErrValidation, "ZIP files require a model-zip-entrypoint field specifying the main file within the archive")
	}
	return nil
}

// ListObjects returns every object in bucketKey, creating the bucket first if
// it does not exist.
func (g *Gateway) ListObjects(ctx context.Context, bucketKey string) ([]Object, error) {
	if bucketKey == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "Bucket key is required for listObjects")
	}
	if err := g.EnsureBucket(ctx, bucketKey); err != nil {
		return nil, err
	}

	objects, err := g.upstream.ListObjects(ctx, bucketKey)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to list objects in '%s'", bucketKey)
	}
	out := make([]Object, 0, len(objects))
	for _, o := range objects {
		out = append(out, newObject(o))
	}
	log.Debug().Str("bucket", bucketKey).Int("count", len(out)).Msg("Objects listed")
	return out, nil
}

// UploadObject stores size bytes of content as name in bucketKey, creating the
// bucket first if it does not exist.
func (g *Gateway) UploadObject(ctx context.Context, bucketKey, name string, content io.ReaderAt, size int64) (Object, error) {
	switch {
	case bucketKey == "":
		return Object{}, apperrors.New(apperrors.ErrValidation, "Bucket key is required for uploadObject")
	case name == "":
		return Object{}, apperrors.New(apperrors.ErrValidation, "Object name is required for uploadObject")
	case content == nil:
		return Object{}, apperrors.New(apperrors.ErrValidation, "File content is required for uploadObject")
	}
	if err := g.EnsureBucket(ctx, bucketKey); err != nil {
		return Object{}, err
	}

	log.Info().Str("bucket", bucketKey).Str("object", name).Int64("size", size).Msg("Uploading object")
	obj, err := g.upstream.UploadObject(ctx, bucketKey, name, content, size)
	if err != nil {
		return Object{}, apperrors.Wrapf(err, "failed to upload '%s'", name)
	}
	if obj.ObjectID == "" {
		obj.ObjectID = aps.ObjectID(bucketKey, name)
	}
	if obj.ObjectKey == "" {
		obj.ObjectKey = name
	}
	return newObject(*obj), nil
}

// UploadModel validates, uploads and submits a model for translation. Invalid
// files are rejected before any upstream call.
func (g *Gateway) UploadModel(ctx context.Context, bucketKey, filename, zipEntrypoint string, content io.ReaderAt, size int64) (Object, error) {
	if err := ValidateUpload(filename, zipEntrypoint); err != nil {
		return Object{}, err
	}
	obj, err := g.UploadObject(ctx, bucketKey, filename, content, size)
	if err != nil {
		return Object{}, err
	}
	if _, err := g.TranslateObject(ctx, obj.URN, zipEntrypoint); err != nil {
		return Object{}, err
	}
	return obj, nil
}
