// Copyright 2026 The riofab Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/openrio/riofab/fabric"
	"github.com/openrio/riofab/fabric/config"
	"github.com/openrio/riofab/fabric/hotplug"
	fabricmetrics "github.com/openrio/riofab/fabric/internal/metrics"
	"github.com/openrio/riofab/pkg/log"
	"github.com/openrio/riofab/private/app/launcher"
)

var globalCfg config.Config

func main() {
	application := launcher.Application{
		TOMLConfig: &globalCfg,
		ShortName:  "RapidIO Fabric Manager",
		Main:       realMain,
	}
	application.SubCommands = append(application.SubCommands, newShow(&application, &globalCfg))
	application.Run()
}

func realMain(ctx context.Context) error {
	c, err := fabric.New(&globalCfg, fabric.Deps{
		Metrics: fabricmetrics.New(),
		Model:   hotplug.LogDeviceModel{},
	})
	if err != nil {
		return err
	}

	g, errCtx := errgroup.WithContext(ctx)
	if globalCfg.Metrics.Prometheus != "" {
		g.Go(func() error {
			defer log.HandlePanic()
			return globalCfg.Metrics.ServePrometheus(errCtx)
		})
	}
	g.Go(func() error {
		defer log.HandlePanic()
		if err := c.Start(errCtx); err != nil {
			return err
		}
		<-errCtx.Done()
		return c.Close()
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
