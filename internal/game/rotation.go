package game

// stageForRound 奇数回合绘画，偶数回合猜词
func stageForRound(round int) Stage {
	if round%2 == 1 {
		return StageDrawing
	}
	return StageGuessing
}

// drawingSlot 绘画回合写入的槽位
func drawingSlot(round int) int {
	return (round - 1) / 2
}

// guessSlot 猜词回合写入的槽位
func guessSlot(round int) int {
	return round/2 - 1
}

// chainOwner 第 round 回合玩家 i 处理的是哪位玩家起始的链
func chainOwner(i, round, n int) int {
	return (i + round) % n
}

// worker 第 round 回合处理 owner 起始链的玩家下标
func worker(owner, round, n int) int {
	return ((owner-round)%n + n) % n
}

// source 玩家 i 的上一手内容总是来自下一位玩家
func source(i, n int) int {
	return (i + 1) % n
}
