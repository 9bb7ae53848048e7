package domain

import "time"

// TimelineEvent описывает запись аудит-следа заказа. Терминальные исходы
// споров пишутся отдельными типами событий, чтобы аудит не смешивал
// обычную доставку и выплату по решению арбитра.
type TimelineEvent struct {
	OrderID  int64
	Type     string
	Reason   string
	Occurred time.Time
}
