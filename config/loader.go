/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package config

import (
	"io"
	"strings"

	spfvpr "github.com/spf13/viper"

	liberr "github.com/relaycore/edge/errors"
)

// envPrefix is the teacher convention of prefixing every bound
// environment variable so it can't collide with an unrelated process's
// environment (RELAYCORE_PROXIES_0_LISTEN, etc).
const envPrefix = "RELAYCORE"

// Load reads path (any format viper recognizes by extension: yaml, json,
// toml) into a Document, layering RELAYCORE_-prefixed environment
// variables over it, and validates the result before returning it.
func Load(path string) (*Document, error) {
	v := spfvpr.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if e := v.ReadInConfig(); e != nil {
		return nil, ErrorReadFailed.Error(e)
	}

	return decode(v)
}

// LoadReader behaves like Load but reads from an already-open source
// instead of a filesystem path (configMap, embedded asset, test fixture);
// typ names the format (yaml, json, toml) the way viper's SetConfigType
// expects, since a reader carries no file extension to infer it from.
func LoadReader(r io.Reader, typ string) (*Document, error) {
	v := spfvpr.New()
	v.SetConfigType(typ)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if e := v.ReadConfig(r); e != nil {
		return nil, ErrorReadFailed.Error(e)
	}

	return decode(v)
}

func decode(v *spfvpr.Viper) (*Document, liberr.Error) {
	var doc Document
	if e := v.Unmarshal(&doc); e != nil {
		return nil, ErrorUnmarshal.Error(e)
	}

	if e := doc.Validate(); e != nil {
		return nil, e
	}

	return &doc, nil
}
