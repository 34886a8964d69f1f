package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/nicksnyder/go-i18n/v2/i18n/template"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // registers file://
	_ "gocloud.dev/blob/memblob"  // registers mem://
	"gocloud.dev/gcerrors"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/lexicon/culture"
)

// messageFormats are tried in order when looking for a bundle file.
var messageFormats = []string{"toml", "yaml", "yml", "json"} //nolint:gochecknoglobals // fixed lookup order

//nolint:gochecknoglobals // shared read-only unmarshal table
var unmarshalFuncs = map[string]i18n.UnmarshalFunc{
	"toml": toml.Unmarshal,
	"yaml": yaml.Unmarshal,
	"yml":  yaml.Unmarshal,
}

// BlobLocator finds message files in a gocloud.dev bucket laid out as
//
//	<scope>/<namespace>.<ext>            invariant messages
//	<scope>/<culture>/<namespace>.<ext>  culture specific messages
type BlobLocator struct {
	bucket *blob.Bucket
	owned  bool
}

// NewBlobLocator wraps an already opened bucket. Closing the locator leaves the bucket open.
func NewBlobLocator(bucket *blob.Bucket) *BlobLocator {
	return &BlobLocator{bucket: bucket}
}

// OpenBlobLocator opens the bucket at bucketURL, e.g. "file:///srv/bundles" or "mem://".
func OpenBlobLocator(ctx context.Context, bucketURL string) (*BlobLocator, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("could not open bundle bucket %q: %w", bucketURL, err)
	}
	return &BlobLocator{bucket: bucket, owned: true}, nil
}

// Close releases the bucket if the locator opened it.
func (l *BlobLocator) Close() error {
	if !l.owned {
		return nil
	}
	return l.bucket.Close()
}

type blobSource struct {
	owner     *BlobLocator
	scope     string
	namespace string
	invariant string
	cultures  map[language.Tag]string
}

func (s *blobSource) Location() string {
	return path.Join(s.scope, s.namespace)
}

func (l *BlobLocator) findFile(ctx context.Context, dir, namespace string) (string, error) {
	for _, ext := range messageFormats {
		key := path.Join(dir, namespace+"."+ext)
		ok, err := l.bucket.Exists(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			return key, nil
		}
	}
	return "", nil
}

func (l *BlobLocator) cultureFiles(ctx context.Context, scope, namespace string) (map[language.Tag]string, error) {
	files := map[language.Tag]string{}

	iter := l.bucket.List(&blob.ListOptions{Prefix: scope + "/", Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return nil, err
		}
		if !obj.IsDir {
			continue
		}

		dir := strings.TrimSuffix(obj.Key, "/")
		tag, ok := culture.FromDirName(path.Base(dir))
		if !ok {
			continue
		}

		key, err := l.findFile(ctx, dir, namespace)
		if err != nil {
			return nil, err
		}
		if key != "" {
			files[tag] = key
		}
	}
}

func (l *BlobLocator) Locate(ctx context.Context, scope, namespace string) (Source, error) {
	if scope == "" || namespace == "" {
		return nil, notFound(scope, namespace)
	}

	invariant, err := l.findFile(ctx, scope, namespace)
	if err != nil {
		return nil, err
	}

	cultures, err := l.cultureFiles(ctx, scope, namespace)
	if err != nil {
		if invariant == "" {
			return nil, err
		}
		// The invariant file is usable on its own; discovery reports the failure later.
		cultures = nil
	}

	if invariant == "" && len(cultures) == 0 {
		return nil, notFound(scope, namespace)
	}

	return &blobSource{
		owner:     l,
		scope:     scope,
		namespace: namespace,
		invariant: invariant,
		cultures:  cultures,
	}, nil
}

func (l *BlobLocator) EnumerateCultures(ctx context.Context, src Source) ([]language.Tag, error) {
	bs, ok := src.(*blobSource)
	if !ok || bs.owner != l {
		return nil, fmt.Errorf("source %q does not belong to this blob locator", src.Location())
	}

	files, err := l.cultureFiles(ctx, bs.scope, bs.namespace)
	if err != nil {
		return nil, err
	}

	tags := make([]language.Tag, 0, len(files))
	for tag := range files {
		tags = append(tags, tag)
	}
	return tags, nil
}

func (s *blobSource) Open(ctx context.Context) (Bundle, error) {
	b := &messageBundle{
		bundle: i18n.NewBundle(culture.Invariant),
		tags:   map[language.Tag]struct{}{},
	}

	if s.invariant != "" {
		if err := b.load(ctx, s.owner.bucket, s.invariant, culture.Invariant); err != nil {
			return nil, err
		}
	}
	for tag, key := range s.cultures {
		if err := b.load(ctx, s.owner.bucket, key, tag); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// messageBundle serves raw message values from a go-i18n bundle.
type messageBundle struct {
	bundle *i18n.Bundle
	tags   map[language.Tag]struct{}
}

func (b *messageBundle) load(ctx context.Context, bucket *blob.Bucket, key string, tag language.Tag) error {
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return fmt.Errorf("message file %q disappeared: %w", key, err)
		}
		return fmt.Errorf("could not read message file %q: %w", key, err)
	}

	// go-i18n derives language and format from the file name, not from the directory.
	name := "messages." + tag.String() + path.Ext(key)
	mf, err := i18n.ParseMessageFileBytes(data, name, unmarshalFuncs)
	if err != nil {
		return fmt.Errorf("could not parse message file %q: %w", key, err)
	}

	if err = b.bundle.AddMessages(tag, mf.Messages...); err != nil {
		return fmt.Errorf("could not add messages from %q: %w", key, err)
	}
	b.tags[tag] = struct{}{}
	return nil
}

func (b *messageBundle) Lookup(identifier string, c language.Tag) (any, bool) {
	for tag := c; ; tag = tag.Parent() {
		if _, ok := b.tags[tag]; ok {
			localizer := i18n.NewLocalizer(b.bundle, tag.String())
			value, found, err := localizer.LocalizeWithTag(&i18n.LocalizeConfig{
				MessageID:      identifier,
				TemplateParser: &template.IdentityParser{},
			})
			if err == nil && found == tag {
				return value, true
			}
		}
		if tag.IsRoot() {
			return nil, false
		}
	}
}
