package persist

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pretendo-dev/pretendo/core/logger"
)

// S3Configuration configures the S3 backup sink.
type S3Configuration struct {
	BucketName string
	Region     string
	KeyPrefix  string
}

// S3BackupSink mirrors backup files into an S3 bucket.
type S3BackupSink struct {
	config aws.Config
	bucket string
	prefix string
}

// NewS3BackupSink loads the default AWS configuration and returns a sink
// for the given bucket.
func NewS3BackupSink(cfg S3Configuration) (*S3BackupSink, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("BucketName must not be empty")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(
		context.TODO(),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("S3 backup sink enabled for bucket", cfg.BucketName)
	return &S3BackupSink{config: awsCfg, bucket: cfg.BucketName, prefix: cfg.KeyPrefix}, nil
}

// Put uploads one backup object.
func (s *S3BackupSink) Put(name string, data []byte) error {
	client := s3.NewFromConfig(s.config)
	key := s.prefix + name
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		logger.Default().WithError(err).Error("could not upload backup ", key)
		return err
	}
	logger.Default().Infoln("uploaded backup ", key)
	return nil
}
