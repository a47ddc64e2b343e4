// Package auxstore implements jobspec.AuxiliaryChecker against the
// object store that holds the dynamic auxiliaries (CAMS, FMI) a
// routine needs before it can run (spec.md §4.H step 3), grounded on
// the aws-sdk-go-v2 stack the pack's cluster-autoscaling example
// already depends on.
package auxstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/magellium/hrwsi/internal/errs"
)

// S3Checker reports dynamic-auxiliary availability by probing for a
// well-known object key per kind/tile/measurement-day, one bucket per
// auxiliary kind (e.g. CAMS lives in its own bucket, separate from
// FMI).
type S3Checker struct {
	Client  *s3.Client
	Buckets map[string]string // auxiliary kind -> bucket name
}

// NewS3Checker builds a checker from an already-configured S3 client.
func NewS3Checker(client *s3.Client, buckets map[string]string) *S3Checker {
	return &S3Checker{Client: client, Buckets: buckets}
}

// Exists implements jobspec.AuxiliaryChecker.
func (c *S3Checker) Exists(ctx context.Context, kind, tile string, measurementDay int) (bool, error) {
	bucket, ok := c.Buckets[kind]
	if !ok {
		return false, errs.NewConfigError("no bucket configured for auxiliary kind " + kind)
	}
	key := objectKey(kind, tile, measurementDay)

	_, err := c.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return false, nil
	}
	return false, errs.WrapTransient(err, fmt.Sprintf("could not check existence of %s/%s", bucket, key))
}

// objectKey builds the auxiliary object key under this package's own
// layout convention: <kind>/<tile>/<measurement_day>.nc, with kind
// lower-cased.
func objectKey(kind, tile string, measurementDay int) string {
	return strings.ToLower(kind) + "/" + tile + "/" + fmt.Sprintf("%d.nc", measurementDay)
}
