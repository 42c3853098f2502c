package images

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apperrors "catalogsync/pkg/errors"
)

// S3API is the subset of the S3 client used for listing.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Source reads the design tree from s3://bucket/prefix.
type S3Source struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Source(client S3API, bucket, prefix string) *S3Source {
	prefix = strings.Trim(prefix, "/")
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

// NewS3SourceFromURL loads the default AWS config and parses s3://bucket/prefix.
func NewS3SourceFromURL(ctx context.Context, rawURL, region string) (*S3Source, error) {
	bucket, prefix, ok := ParseS3URL(rawURL)
	if !ok {
		return nil, fmt.Errorf("invalid s3 url %q", rawURL)
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewS3Source(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// ParseS3URL splits s3://bucket/some/prefix.
func ParseS3URL(raw string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(raw, "s3://")
	if !found || rest == "" {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(prefix, "/"), bucket != ""
}

func (s *S3Source) String() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}

func (s *S3Source) key(parts ...string) string {
	return strings.TrimPrefix(path.Join(append([]string{s.prefix}, parts...)...), "/") + "/"
}

func (s *S3Source) Check(ctx context.Context) error {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return &apperrors.ErrIO{Op: "list", Path: s.String(), Err: err}
	}
	if aws.ToInt32(out.KeyCount) == 0 {
		return &apperrors.ErrNotFound{Resource: "image root", ID: s.String()}
	}
	return nil
}

func (s *S3Source) ListFolders(ctx context.Context, partition string) ([]string, error) {
	prefix := s.key(partition)
	var folders []string
	err := s.list(ctx, prefix, func(out *s3.ListObjectsV2Output) {
		for _, cp := range out.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				folders = append(folders, name)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		return nil, &apperrors.ErrIO{Op: "list", Path: prefix, Err: fmt.Errorf("partition %s is empty or missing", partition)}
	}
	sort.Strings(folders)
	return folders, nil
}

func (s *S3Source) ListFiles(ctx context.Context, partition, folder string) ([]File, error) {
	prefix := s.key(partition, folder)
	var files []File
	err := s.list(ctx, prefix, func(out *s3.ListObjectsV2Output) {
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			files = append(files, File{Name: name, Size: aws.ToInt64(obj.Size)})
		}
	})
	return files, err
}

func (s *S3Source) list(ctx context.Context, prefix string, page func(*s3.ListObjectsV2Output)) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return &apperrors.ErrIO{Op: "list", Path: "s3://" + s.bucket + "/" + prefix, Err: err}
		}
		page(out)
	}
	return nil
}
