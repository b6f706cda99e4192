// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Command objgraphgen scans a package for struct types and emits an
// init() file that Prewarms objgraph.Default's codec cache for each one, so
// the first Marshal/Unmarshal call made through objgraph.Default never pays
// the reflection-walk cost of building a type's codec from scratch.
//
// It is the build-time companion to the runtime package: load the target
// package with go/packages, walk its exported struct types, and write a
// small generated file back into the same package. Rather than emitting
// full per-type marshal/unmarshal bodies, this generator only emits Prewarm
// calls: the runtime path stays 100% reflection-driven, the generator just
// moves when that reflection work happens.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/format"
	"go/types"
	"log"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/tools/go/packages"
)

var (
	pkgFlag = flag.String("pkg", ".", "package directory to scan for struct types")
	outFlag = flag.String("out", "objgraph_prewarm.go", "generated file name, written inside -pkg")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatalf("objgraphgen failed: %v", err)
	}
}

func run() error {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedFiles,
	}
	pkgs, err := packages.Load(cfg, *pkgFlag)
	if err != nil {
		return fmt.Errorf("loading package: %w", err)
	}
	if len(pkgs) == 0 {
		return fmt.Errorf("no packages found at %s", *pkgFlag)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return fmt.Errorf("errors loading package at %s", *pkgFlag)
	}

	for _, pkg := range pkgs {
		names := structNames(pkg)
		if len(names) == 0 {
			continue
		}
		src, err := renderPrewarmFile(pkg.Name, names)
		if err != nil {
			return fmt.Errorf("rendering %s: %w", pkg.PkgPath, err)
		}
		dir := filepath.Dir(pkg.GoFiles[0])
		if err := os.WriteFile(filepath.Join(dir, *outFlag), src, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", *outFlag, err)
		}
	}
	return nil
}

// structNames returns the exported, package-local named struct types in
// pkg, sorted for deterministic output across runs.
func structNames(pkg *packages.Package) []string {
	scope := pkg.Types.Scope()
	var names []string
	for _, name := range scope.Names() {
		obj := scope.Lookup(name)
		tn, ok := obj.(*types.TypeName)
		if !ok || !tn.Exported() {
			continue
		}
		if _, ok := tn.Type().Underlying().(*types.Struct); !ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const prewarmTemplate = `// Code generated by objgraphgen. DO NOT EDIT.

package %s

import %q

func init() {
%s}
`

// objgraphImportPath is this module's own import path; the generated file
// always targets objgraph.Default (debug.go), since it has no way to know
// which *objgraph.Serializer an application will construct for itself.
const objgraphImportPath = "github.com/MaxXuXu/objgraph"

func renderPrewarmFile(pkgName string, names []string) ([]byte, error) {
	var body bytes.Buffer
	for _, n := range names {
		fmt.Fprintf(&body, "\t_ = objgraph.Prewarm((*%s)(nil))\n", n)
	}
	src := fmt.Sprintf(prewarmTemplate, pkgName, objgraphImportPath, body.String())
	return format.Source([]byte(src))
}
