package alloctrack

type OperationStatistics struct {
	AllocateCalls   int
	ReallocateCalls int
	ReleaseCalls    int
}

func (s *OperationStatistics) Clear() {
	s.AllocateCalls = 0
	s.ReallocateCalls = 0
	s.ReleaseCalls = 0
}

func (s *OperationStatistics) AddStatistics(other *OperationStatistics) {
	s.AllocateCalls += other.AllocateCalls
	s.ReallocateCalls += other.ReallocateCalls
	s.ReleaseCalls += other.ReleaseCalls
}

type AnomalyStatistics struct {
	OperationStatistics
	LeakedBlocks        int
	LeakedBytes         int
	ZeroSizeAllocates   int
	ZeroSizeReallocates int
	FailedAllocates     int
	FailedReallocates   int
	NullReallocates     int
	NullReleases        int
}

func (s *AnomalyStatistics) Clear() {
	s.OperationStatistics.Clear()
	s.LeakedBlocks = 0
	s.LeakedBytes = 0
	s.ZeroSizeAllocates = 0
	s.ZeroSizeReallocates = 0
	s.FailedAllocates = 0
	s.FailedReallocates = 0
	s.NullReallocates = 0
	s.NullReleases = 0
}

func (s *AnomalyStatistics) AddLeak(size int) {
	s.LeakedBlocks++
	s.LeakedBytes += size
}

func (s *AnomalyStatistics) AddAnomalyStatistics(other *AnomalyStatistics) {
	s.OperationStatistics.AddStatistics(&other.OperationStatistics)
	s.LeakedBlocks += other.LeakedBlocks
	s.LeakedBytes += other.LeakedBytes
	s.ZeroSizeAllocates += other.ZeroSizeAllocates
	s.ZeroSizeReallocates += other.ZeroSizeReallocates
	s.FailedAllocates += other.FailedAllocates
	s.FailedReallocates += other.FailedReallocates
	s.NullReallocates += other.NullReallocates
	s.NullReleases += other.NullReleases
}
