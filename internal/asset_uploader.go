package internal

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/lychee-technology/fieldform"
)

// objectUploader is the slice of the S3 transfer manager the uploader needs.
type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// AssetUploader drains pending media assets from the local store into an S3
// bucket. Uploads follow the same per-record isolation as record pushes.
type AssetUploader struct {
	store    fieldform.LocalStore
	uploader objectUploader
	bucket   string
	prefix   string
}

// NewAssetUploader builds an uploader against the configured bucket. A custom
// endpoint switches the client to path-style addressing for MinIO-style
// backends.
func NewAssetUploader(ctx context.Context, cfg fieldform.AssetConfig, store fieldform.LocalStore) (*AssetUploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fieldform.NewInternalError("load aws config", err)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &AssetUploader{
		store:    store,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   strings.TrimSuffix(cfg.Prefix, "/"),
	}, nil
}

// newAssetUploaderWith wires an explicit transfer manager; used by tests.
func newAssetUploaderWith(store fieldform.LocalStore, uploader objectUploader, bucket, prefix string) *AssetUploader {
	return &AssetUploader{
		store:    store,
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.TrimSuffix(prefix, "/"),
	}
}

// UploadPending uploads every pending or previously failed asset. A failed
// upload marks that asset "error" and moves on.
func (u *AssetUploader) UploadPending(ctx context.Context) (*fieldform.SyncReport, error) {
	assets, err := u.store.PendingAssets(ctx)
	if err != nil {
		return nil, err
	}

	report := &fieldform.SyncReport{}
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return report, fieldform.NewInternalError("upload cancelled", err)
		}
		outcome := u.uploadOne(ctx, asset)
		report.Outcomes = append(report.Outcomes, outcome)
	}

	if report.Failed() > 0 {
		zap.S().Warnw("asset upload pass finished with failures",
			"uploaded", report.Synced(), "failed", report.Failed())
	}
	return report, nil
}

func (u *AssetUploader) uploadOne(ctx context.Context, asset *fieldform.AssetRecord) fieldform.RecordOutcome {
	if err := u.store.SetAssetSyncStatus(ctx, asset.ID, fieldform.SyncSyncing); err != nil {
		return fieldform.RecordOutcome{RecordID: asset.ID, Status: asset.SyncStatus, Err: err}
	}

	if err := u.putObject(ctx, asset); err != nil {
		zap.S().Warnw("asset upload failed", "asset", asset.ID, "uri", asset.URI, "error", err)
		if stErr := u.store.SetAssetSyncStatus(ctx, asset.ID, fieldform.SyncError); stErr != nil {
			zap.S().Errorw("failed to mark asset as errored", "asset", asset.ID, "error", stErr)
		}
		return fieldform.RecordOutcome{RecordID: asset.ID, Status: fieldform.SyncError, Err: err}
	}

	if err := u.store.SetAssetSyncStatus(ctx, asset.ID, fieldform.SyncSynced); err != nil {
		return fieldform.RecordOutcome{RecordID: asset.ID, Status: fieldform.SyncSyncing, Err: err}
	}
	return fieldform.RecordOutcome{RecordID: asset.ID, Status: fieldform.SyncSynced}
}

func (u *AssetUploader) putObject(ctx context.Context, asset *fieldform.AssetRecord) error {
	file, err := os.Open(asset.URI)
	if err != nil {
		return fieldform.NewPersistenceError("open asset file", err).WithRecord(asset.ID)
	}
	defer file.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(u.objectKey(asset)),
		Body:   file,
	}
	if ct := mime.TypeByExtension(filepath.Ext(asset.URI)); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := u.uploader.Upload(ctx, input); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fieldform.NewRemoteError(0,
				fmt.Sprintf("upload asset to s3://%s: %s", u.bucket, apiErr.ErrorCode()),
				err).WithRecord(asset.ID)
		}
		return fieldform.NewRemoteError(0,
			fmt.Sprintf("upload asset to s3://%s", u.bucket), err).WithRecord(asset.ID)
	}
	return nil
}

// objectKey lays assets out as <prefix>/<entityType>/<entityId>/<assetId><ext>
// so server-side listing by entity stays cheap.
func (u *AssetUploader) objectKey(asset *fieldform.AssetRecord) string {
	parts := []string{string(asset.EntityType), asset.EntityID, asset.ID + filepath.Ext(asset.URI)}
	if u.prefix != "" {
		parts = append([]string{u.prefix}, parts...)
	}
	return path.Join(parts...)
}
