// Пакет s3store — файловое хранилище записей в S3-совместимом сервисе
// (AWS S3, MinIO, Ceph RGW).
package s3store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/record-module/internal/storage"
)

// Client — подмножество API S3, используемое хранилищем.
// *s3.Client удовлетворяет интерфейсу; в тестах подставляется фейк.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Config — параметры подключения к S3.
type Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Store — FileStore поверх S3.
type Store struct {
	client Client
	bucket string
	prefix string
}

var _ storage.FileStore = (*Store)(nil)

// NewClient создаёт S3-клиент из конфигурации. Без статических ключей
// используется стандартная цепочка учётных данных SDK.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// New создаёт хранилище поверх готового клиента.
func New(client Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Put сохраняет объект под ключом {prefix}{owner}/{uuid}.
// Содержимое буферизуется: PutObject требует известную длину тела.
func (s *Store) Put(ctx context.Context, r io.Reader, name, owner string) (*storage.PutResult, error) {
	var buf bytes.Buffer
	hasher := sha256.New()
	size, err := io.Copy(&buf, io.TeeReader(r, hasher))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения данных: %w", err)
	}

	id := path.Join(safeSegment(owner), uuid.New().String())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(id)),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(size),
		Metadata:      map[string]string{"original-name": name},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки объекта в S3: %w", err)
	}

	return &storage.PutResult{
		ID:       id,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open возвращает тело объекта.
func (s *Store) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения объекта %s: %w", id, err)
	}
	return out.Body, nil
}

// Remove удаляет объект. S3 не сообщает об отсутствии объекта при удалении.
func (s *Store) Remove(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления объекта %s: %w", id, err)
	}
	return nil
}

// CheckReady проверяет доступность бакета.
func (s *Store) CheckReady(ctx context.Context) (string, string) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return "fail", fmt.Sprintf("бакет %s недоступен: %v", s.bucket, err)
	}
	return "ok", "S3 доступен"
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// safeSegment делает из идентификатора principal безопасный сегмент ключа.
func safeSegment(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 || b.String() == "." || b.String() == ".." {
		return "_"
	}
	return b.String()
}
