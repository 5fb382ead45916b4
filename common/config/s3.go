package config

import (
	"os"

	"github.com/pkg/errors"
)

// S3 configures the bucket handler. Any field left empty falls back to
// the matching S3_* environment variable.
type S3 struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Key      string `yaml:"key"`
	Secret   string `yaml:"secret"`
	Bucket   string `yaml:"bucket"`
}

func (self *S3) Check(cfg *Base) error {
	if self.Bucket == "" {
		return nil
	}
	if self.Key == "" || self.Secret == "" {
		return errors.New("s3 key and secret must be set when bucket is set")
	}
	return nil
}

func (self *S3) fill(cfg *Base) {
	if self.Region == "" {
		self.Region = os.Getenv("S3_REGION")
	}
	if self.Endpoint == "" {
		self.Endpoint = os.Getenv("S3_ENDPOINT")
	}
	if self.Key == "" {
		self.Key = os.Getenv("S3_KEY")
	}
	if self.Secret == "" {
		self.Secret = os.Getenv("S3_SECRET")
	}
}
