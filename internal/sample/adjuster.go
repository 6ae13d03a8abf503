/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sample

import (
	log "github.com/sirupsen/logrus"

	"github.com/facebook/ntpsync/internal/hostclock"
	"github.com/facebook/ntpsync/internal/timemodel"
)

// Adjuster applies one full batch to a TimeModel and decides whether
// accuracy has broken down (spec §4.5).
type Adjuster struct {
	Model        *timemodel.TimeModel
	MaxOffsetSec float64
}

// Apply selects the batch's best sample, folds it into the TimeModel, and
// reports whether the engine should terminate with accuracy_broken.
func (a *Adjuster) Apply(b *Batch) (accuracyBroken bool) {
	chosen := b.Select()
	tsyncMono := hostclock.Mono()

	res := a.Model.Adjust(tsyncMono, chosen.Offset, chosen.Delay, a.MaxOffsetSec)

	log.WithFields(log.Fields{
		"adjustments": res.Adjustments,
		"ofs_rel":     chosen.Offset,
		"delay":       chosen.Delay,
	}).Debug("adjusted clock")

	if res.Synchronized {
		return false
	}
	if res.Adjustments > 2 || res.WasSynchronized {
		log.WithField("ofs_rel", chosen.Offset).Warning("cannot synchronize: accuracy broken")
		return true
	}
	return false
}
