//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package monitoring

// Register a new, unloaded collection
func (pm *PrometheusMetrics) NewUnloadedCollection() {
	if pm == nil {
		return
	}

	pm.CollectionsUnloaded.Inc()
}

// Move the collection from unloaded to loaded
func (pm *PrometheusMetrics) CollectionLoaded() {
	if pm == nil {
		return
	}

	pm.CollectionsUnloaded.Dec()
	pm.CollectionsLoaded.Inc()
}

// Move the collection from loaded to unloading
func (pm *PrometheusMetrics) StartUnloadingCollection() {
	if pm == nil {
		return
	}

	pm.CollectionsLoaded.Dec()
	pm.CollectionsUnloading.Inc()
}

// Move the collection from unloading to unloaded
func (pm *PrometheusMetrics) FinishUnloadingCollection() {
	if pm == nil {
		return
	}

	pm.CollectionsUnloading.Dec()
	pm.CollectionsUnloaded.Inc()
}

// Forget an unloaded collection, e.g. after it was dropped
func (pm *PrometheusMetrics) DropUnloadedCollection() {
	if pm == nil {
		return
	}

	pm.CollectionsUnloaded.Dec()
}
