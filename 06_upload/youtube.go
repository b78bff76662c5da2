package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"demo-reel-pipeline/config"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// ErrNoCredentials means the YouTube OAuth env vars are missing
var ErrNoCredentials = errors.New("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, or YOUTUBE_REFRESH_TOKEN not set")

// Uploader handles YouTube video upload via Data API v3
type Uploader struct {
	cfg    config.UploadConfig
	logger *zap.Logger
	// opts are extra client options, e.g. option.WithEndpoint for a local API
	opts []option.ClientOption
	// authEndpoint is where the refresh token is exchanged
	authEndpoint oauth2.Endpoint
}

// New creates a new Uploader
func New(cfg config.UploadConfig, logger *zap.Logger, opts ...option.ClientOption) *Uploader {
	return &Uploader{cfg: cfg, logger: logger.Named("upload"), opts: opts, authEndpoint: google.Endpoint}
}

// Result identifies the uploaded video
type Result struct {
	VideoID  string `json:"video_id"`
	VideoURL string `json:"video_url"`
}

// Run uploads the rough cut with meta; visibility defaults to unlisted
func (u *Uploader) Run(ctx context.Context, videoFile string, meta *Meta) (*Result, error) {
	u.logger.Info("authenticating with YouTube API")

	client, err := u.oauthClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("youtube auth: %w", err)
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, u.opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}

	visibility := meta.Visibility
	if visibility == "" {
		visibility = "unlisted"
	}
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                meta.Title,
			Description:          meta.Description,
			Tags:                 meta.Tags,
			CategoryId:           meta.CategoryID,
			DefaultLanguage:      u.cfg.DefaultLanguage,
			DefaultAudioLanguage: u.cfg.DefaultLanguage,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           visibility,
			SelfDeclaredMadeForKids: false,
		},
	}

	f, err := os.Open(videoFile)
	if err != nil {
		return nil, fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil {
		u.logger.Info("uploading",
			zap.String("title", meta.Title),
			zap.String("visibility", visibility),
			zap.Float64("mb", float64(fi.Size())/1024/1024),
		)
	}

	uploaded, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(f).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube upload: %w", err)
	}

	res := &Result{
		VideoID:  uploaded.Id,
		VideoURL: fmt.Sprintf("https://www.youtube.com/watch?v=%s", uploaded.Id),
	}
	u.logger.Info("uploaded", zap.String("id", res.VideoID), zap.String("url", res.VideoURL))
	return res, nil
}

// oauthClient builds an HTTP client from the refresh token in the environment
func (u *Uploader) oauthClient(ctx context.Context) (*http.Client, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	refreshToken := os.Getenv("YOUTUBE_REFRESH_TOKEN")
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, ErrNoCredentials
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     u.authEndpoint,
		Scopes:       []string{youtube.YoutubeUploadScope},
	}
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	return conf.Client(ctx, token), nil
}

// LogUpload saves the upload result as logs/upload_<timestamp>.json and returns its path
func LogUpload(res *Result, videoFile, logDir string, meta *Meta) (string, error) {
	entry := map[string]interface{}{
		"video_id":    res.VideoID,
		"video_url":   res.VideoURL,
		"title":       meta.Title,
		"visibility":  meta.Visibility,
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
		"video_file":  videoFile,
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", err
	}
	logFile := filepath.Join(logDir, fmt.Sprintf("upload_%s.json", time.Now().Format("20060102_150405")))
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(logFile, data, 0644); err != nil {
		return "", err
	}
	return logFile, nil
}
