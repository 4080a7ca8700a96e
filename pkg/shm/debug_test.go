/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type DebugTestSuite struct {
	suite.Suite
	out  bytes.Buffer
	prev int32
}

func (s *DebugTestSuite) SetupTest() {
	s.out.Reset()
	s.prev = level.Load()
	SetLogOutput(&s.out)
}

func (s *DebugTestSuite) TearDownTest() {
	SetLogOutput(nil)
	level.Store(s.prev)
}

func (s *DebugTestSuite) TestLogColor() {
	SetLogLevel(levelTrace)

	internalLogger.infof("this is infof %s", "hello world")
	internalLogger.debugf("debug message")
	internalLogger.warnf("this is warnf %s", "hello world")
	internalLogger.errorf("this is errorf %s", "hello world")

	lines := strings.Split(strings.TrimSpace(s.out.String()), "\n")
	s.Require().Len(lines, 4)
	s.Contains(lines[0], blue+"Info")
	s.Contains(lines[0], "debug_test.go:")
	s.Contains(lines[0], "shmsync this is infof hello world")
	s.Contains(lines[1], green+"Debug")
	s.Contains(lines[2], yellow+"Warn")
	s.Contains(lines[3], red+"Error")
}

func (s *DebugTestSuite) TestLevelFilter() {
	SetLogLevel(levelWarn)
	internalLogger.infof("hidden")
	internalLogger.debugf("hidden")
	s.Empty(s.out.String())

	internalLogger.warnf("shown")
	s.Contains(s.out.String(), "shown")

	s.out.Reset()
	SetLogLevel(levelNoPrint)
	internalLogger.errorf("hidden")
	s.Empty(s.out.String())

	// out of range levels are ignored
	SetLogLevel(42)
	s.Equal(int32(levelNoPrint), level.Load())
}

func (s *DebugTestSuite) TestFatalLoggedWhenSilenced() {
	SetLogLevel(levelNoPrint)
	fe := &FatalError{Kind: KindMap, Op: "mmap", Name: "/idx_cache", Err: ErrClosed}
	internalLogger.fatalf("%v", fe)

	out := s.out.String()
	s.Contains(out, red+"Error")
	s.Contains(out, "FAIL errno=0 in |mmap /idx_cache|")
}

func TestDebugTestSuite(t *testing.T) {
	suite.Run(t, new(DebugTestSuite))
}
