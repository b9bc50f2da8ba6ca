package config

type WorkerKeyStruct struct {
	PersistIntegrityEventsQueue string
	RecomputeRanksQueue         string
}

var WorkerKey = &WorkerKeyStruct{
	PersistIntegrityEventsQueue: "persist_integrity_events_queue",
	RecomputeRanksQueue:         "recompute_ranks_queue",
}
