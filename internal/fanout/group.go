package fanout

// Group は通知をリソースIDごとにグループ化する。
// リソースIDを持たない通知は黙って捨てる。
// グループはリソースIDが最初に現れた順に並び、グループ内の通知は入力順を保つ。
func Group[P comparable](notifications []Notification[P]) []ResourceGroup[P] {
	index := make(map[string]int)
	var groups []ResourceGroup[P]
	for _, n := range notifications {
		if !n.Scoped() {
			continue
		}
		i, ok := index[n.ResourceID]
		if !ok {
			i = len(groups)
			index[n.ResourceID] = i
			groups = append(groups, ResourceGroup[P]{ResourceID: n.ResourceID})
		}
		groups[i].Notifications = append(groups[i].Notifications, n)
	}
	return groups
}
