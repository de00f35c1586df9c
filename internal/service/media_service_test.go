package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/interview-prep-service/internal/config"
	"github.com/spec-kit/interview-prep-service/internal/storage"
	apperrors "github.com/spec-kit/interview-prep-service/pkg/util/errorutil"
)

type recordingStore struct {
	puts []storage.Object
	body string
	err  error
}

func (s *recordingStore) Put(_ context.Context, obj storage.Object) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	b, err := io.ReadAll(obj.Body)
	if err != nil {
		return "", err
	}
	s.body = string(b)
	s.puts = append(s.puts, obj)
	return "http://cdn.local/" + obj.Key, nil
}

const (
	pngMagic  = "\x89PNG\r\n\x1a\n"
	jpegMagic = "\xff\xd8\xff\xe0"
)

func newMediaService(store storage.ObjectStore) *MediaService {
	return NewMediaService(store, config.StorageConfig{
		MaxUploadBytes:   16,
		AllowedMimeTypes: []string{"image/jpeg", "image/jpg", "image/png"},
	}, nil)
}

func TestUploadProfileImage(t *testing.T) {
	store := &recordingStore{}
	svc := newMediaService(store)

	url, err := svc.UploadProfileImage(context.Background(), UploadInput{
		Filename:    "me.PNG",
		ContentType: "image/png",
		Size:        int64(len(pngMagic)),
		Body:        strings.NewReader(pngMagic),
	})

	require.NoError(t, err)
	require.Len(t, store.puts, 1)
	assert.Equal(t, "http://cdn.local/"+store.puts[0].Key, url)
	assert.True(t, strings.HasSuffix(store.puts[0].Key, ".png"))
	assert.Equal(t, "image/png", store.puts[0].ContentType)
	assert.Equal(t, pngMagic, store.body)
}

func TestUploadProfileImageRejects(t *testing.T) {
	cases := []struct {
		name string
		in   UploadInput
		msg  string
	}{
		{"empty", UploadInput{Filename: "a.png", ContentType: "image/png"}, "No file uploaded"},
		{"too large", UploadInput{Filename: "a.png", ContentType: "image/png", Size: 17, Body: strings.NewReader("x")}, "File too large"},
		{"gif", UploadInput{Filename: "a.gif", ContentType: "image/gif", Size: 3, Body: strings.NewReader("GIF")}, "Only .jpeg, .jpg and .png formats are allowed"},
		{"no type", UploadInput{Filename: "a", Size: 3, Body: strings.NewReader("abc")}, "Only .jpeg, .jpg and .png formats are allowed"},
		{"html declared as png", UploadInput{Filename: "evil.html", ContentType: "image/png", Size: 14, Body: strings.NewReader("<html><script>")}, "Only .jpeg, .jpg and .png formats are allowed"},
		{"plain text declared as jpeg", UploadInput{Filename: "a.jpg", ContentType: "image/jpeg", Size: 5, Body: strings.NewReader("hello")}, "Only .jpeg, .jpg and .png formats are allowed"},
		{"size without bytes", UploadInput{Filename: "a.png", ContentType: "image/png", Size: 4, Body: strings.NewReader("")}, "No file uploaded"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &recordingStore{}
			_, err := newMediaService(store).UploadProfileImage(context.Background(), tc.in)

			de := apperrors.ToDomainError(err)
			assert.Equal(t, apperrors.CodeValidation, de.Code)
			assert.Equal(t, tc.msg, de.Message)
			assert.Empty(t, store.puts)
		})
	}
}

func TestUploadProfileImageAcceptsParams(t *testing.T) {
	store := &recordingStore{}

	_, err := newMediaService(store).UploadProfileImage(context.Background(), UploadInput{
		Filename: "a.jpeg", ContentType: "Image/JPEG; charset=binary", Size: int64(len(jpegMagic)), Body: strings.NewReader(jpegMagic),
	})

	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", store.puts[0].ContentType)
	assert.True(t, strings.HasSuffix(store.puts[0].Key, ".jpg"), store.puts[0].Key)
}

func TestUploadProfileImageKeyIgnoresFilename(t *testing.T) {
	store := &recordingStore{}

	_, err := newMediaService(store).UploadProfileImage(context.Background(), UploadInput{
		Filename: "evil.html", ContentType: "image/png", Size: int64(len(pngMagic)), Body: strings.NewReader(pngMagic),
	})

	require.NoError(t, err)
	key := store.puts[0].Key
	assert.True(t, strings.HasSuffix(key, ".png"), key)
	assert.NotContains(t, key, "html")
	assert.Equal(t, pngMagic, store.body)
}

func TestUploadProfileImageStoresDetectedType(t *testing.T) {
	store := &recordingStore{}

	_, err := newMediaService(store).UploadProfileImage(context.Background(), UploadInput{
		Filename: "a.png", ContentType: "image/png", Size: int64(len(jpegMagic)), Body: strings.NewReader(jpegMagic),
	})

	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", store.puts[0].ContentType)
	assert.True(t, strings.HasSuffix(store.puts[0].Key, ".jpg"), store.puts[0].Key)
}

func TestUploadProfileImageStoreFailure(t *testing.T) {
	svc := newMediaService(&recordingStore{err: errors.New("bucket gone")})

	_, err := svc.UploadProfileImage(context.Background(), UploadInput{
		Filename: "a.png", ContentType: "image/png", Size: int64(len(pngMagic)), Body: strings.NewReader(pngMagic),
	})

	assert.Equal(t, apperrors.CodeInternal, apperrors.ToDomainError(err).Code)
}

func TestNewMediaServiceDefaults(t *testing.T) {
	svc := NewMediaService(&recordingStore{}, config.StorageConfig{}, nil)

	assert.Equal(t, int64(5<<20), svc.MaxBytes())
}
