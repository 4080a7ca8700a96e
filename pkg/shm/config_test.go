package shm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestVerifyConfig() {
	config := DefaultConfig()
	s.Require().NoError(VerifyConfig(config))

	config.SegmentSize = 0
	s.Require().Error(VerifyConfig(config))
	config.SegmentSize = -1
	s.Require().Error(VerifyConfig(config))
	config.SegmentSize = 4096

	config.AttachTimeout = 0
	s.Require().Error(VerifyConfig(config))
	config.AttachTimeout = time.Second

	config.SegmentPerm = 0
	s.Require().Error(VerifyConfig(config))
	config.SegmentPerm = 0600

	s.Require().NoError(VerifyConfig(config))
	s.Require().Error(VerifyConfig(nil))
}

func (s *ConfigTestSuite) TestLoadConfigFile() {
	path := filepath.Join(s.T().TempDir(), "shmsync.yaml")
	data := []byte("dir: /tmp/shmsync-test\nsegment_size: 4096\nattach_timeout: 250ms\n")
	s.Require().NoError(os.WriteFile(path, data, 0644))

	config, err := LoadConfig(path)
	s.Require().NoError(err)
	s.Equal("/tmp/shmsync-test", config.Dir)
	s.Equal(4096, config.SegmentSize)
	s.Equal(250*time.Millisecond, config.AttachTimeout)
	// untouched fields keep their defaults
	s.Equal(defaultMutexPerm, config.MutexPerm)
}

func (s *ConfigTestSuite) TestLoadConfigEnvOverrides() {
	s.T().Setenv("SHMSYNC_DIR", "/tmp/shmsync-env")
	s.T().Setenv("SHMSYNC_SEGMENT_SIZE", "8192")
	s.T().Setenv("SHMSYNC_ATTACH_TIMEOUT", "2s")

	config, err := LoadConfig("")
	s.Require().NoError(err)
	s.Equal("/tmp/shmsync-env", config.Dir)
	s.Equal(8192, config.SegmentSize)
	s.Equal(2*time.Second, config.AttachTimeout)

	s.T().Setenv("SHMSYNC_SEGMENT_SIZE", "lots")
	_, err = LoadConfig("")
	s.Require().Error(err)
}

func (s *ConfigTestSuite) TestLoadConfigErrors() {
	_, err := LoadConfig(filepath.Join(s.T().TempDir(), "missing.yaml"))
	s.Require().Error(err)

	path := filepath.Join(s.T().TempDir(), "bad.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("segment_size: [1"), 0644))
	_, err = LoadConfig(path)
	s.Require().Error(err)

	s.Require().NoError(os.WriteFile(path, []byte("segment_size: 0\n"), 0644))
	_, err = LoadConfig(path)
	s.Require().Error(err)
}

func (s *ConfigTestSuite) TestNewFactoryRejectsInvalidConfig() {
	config := DefaultConfig()
	config.SegmentSize = 0
	_, err := NewFactory(config)
	s.Require().Error(err)

	f, err := NewFactory(nil)
	s.Require().NoError(err)
	s.Equal(DefaultSegmentSize, f.Config().SegmentSize)
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
