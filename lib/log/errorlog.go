// Copyright 2015 Tamás Demeter-Haludka
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"bytes"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// ErrorLog appends error records to a daily file (dir/YYYY-MM-DD.log).
type ErrorLog struct {
	Channel string
	Now     func() time.Time

	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

func NewErrorLog(fs afero.Fs, dir, channel string) *ErrorLog {
	return &ErrorLog{
		Channel: channel,
		Now:     time.Now,
		fs:      fs,
		dir:     dir,
	}
}

// Returns the path of the log file for the given day.
func (l *ErrorLog) FileName(t time.Time) string {
	return path.Join(l.dir, t.Format("2006-01-02")+".log")
}

// Writes an error record. The context is written as "key value" lines, sorted by key.
func (l *ErrorLog) Error(message string, context map[string]string) error {
	now := l.Now()

	buf := bytes.NewBuffer(nil)
	buf.WriteString(now.Format("2006-01-02 15:04:05"))
	buf.WriteString(" ")
	buf.WriteString(l.Channel)
	buf.WriteString(".ERROR: ")
	buf.WriteString(message)
	buf.WriteString("\n")

	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteString(" ")
		buf.WriteString(context[k])
		buf.WriteString("\n")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fs.MkdirAll(l.dir, 0755); err != nil {
		return err
	}

	f, err := l.fs.OpenFile(l.FileName(now), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(buf.Bytes())
	return err
}

// Records an error together with its stack trace.
func (l *ErrorLog) Exception(err error, stackTrace string) error {
	return l.Error("Exception occurred:", map[string]string{
		"Exception": err.Error(),
		"Trace":     stackTrace,
	})
}
