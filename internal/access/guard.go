package access

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
)

// Guard сериализует мутирующие операции и защищает их от reentrancy.
// Конкурентные вызовы из разных запросов ждут освобождения токена;
// ErrReentrantCall получает только вложенный повторный вход из ещё не
// завершённой операции — то есть из goroutine, удерживающей токен.
//
// Токен берётся на входе в операцию и обязан освобождаться на каждом пути
// выхода, включая ошибочные:
//
//	release, err := guard.Enter(access.OpCreateOrder)
//	if err != nil { return err }
//	defer release()
type Guard struct {
	run sync.Mutex // сериализует сами операции

	mu      sync.Mutex // защищает поля ниже
	busy    bool
	owner   uint64
	current Operation
}

// NewGuard создаёт guard в свободном состоянии.
func NewGuard() *Guard {
	return &Guard{}
}

// Enter захватывает токен выполнения. Вложенный вход из goroutine,
// уже удерживающей токен, возвращает ErrReentrantCall; остальные
// вызывающие блокируются до release.
func (g *Guard) Enter(op Operation) (func(), error) {
	gid := goroutineID()

	g.mu.Lock()
	if g.busy && g.owner == gid {
		g.mu.Unlock()
		return nil, domain.ErrReentrantCall
	}
	g.mu.Unlock()

	g.run.Lock()

	g.mu.Lock()
	g.busy = true
	g.owner = gid
	g.current = op
	g.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			g.busy = false
			g.owner = 0
			g.current = ""
			g.mu.Unlock()
			g.run.Unlock()
		})
	}
	return release, nil
}

// InProgress возвращает операцию, удерживающую токен, если она есть.
func (g *Guard) InProgress() (Operation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current, g.busy
}

// goroutineID извлекает идентификатор текущей goroutine из заголовка
// стека ("goroutine 123 [running]:"). Runtime не даёт другого способа
// отличить вложенный вход от конкурентного.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
