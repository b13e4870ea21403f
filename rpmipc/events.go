package rpmipc

import "fmt"

// Event is implemented by every message the helper streams back to the
// parent, spec §4.10.
type Event interface {
	isEvent()
}

// PackageBegin marks the start of processing for one TransactionStep.
type PackageBegin struct{ StepID int }

// PackageFinished marks successful completion of a step.
type PackageFinished struct{ StepID int }

// PackageError marks a step's failure.
type PackageError struct{ StepID int }

// PackageProgress reports incremental progress (0-100) for a step.
type PackageProgress struct {
	StepID int
	Amount int
}

// CleanupBegin marks the start of a non-step cleanup operation for an
// nvra-identified package.
type CleanupBegin struct{ NVRA string }

// CleanupFinished marks a cleanup operation's completion.
type CleanupFinished struct{ NVRA string }

// CleanupProgress reports incremental cleanup progress.
type CleanupProgress struct {
	NVRA   string
	Amount int
}

// ScriptBegin marks the start of a package script. StepID is -1 for
// scripts not tied to a transaction step (e.g. %posttrans of the whole
// transaction).
type ScriptBegin struct {
	StepID        int
	ScriptType    string
	ScriptPackage string
}

// ScriptFinished marks a script's completion.
type ScriptFinished struct{}

// ScriptError marks a script's failure; Fatal distinguishes an error that
// aborts the transaction from one that's merely logged.
type ScriptError struct {
	StepID int
	Fatal  bool
}

// TransBegin marks the start of the whole transaction.
type TransBegin struct{ Name string }

// TransProgress reports incremental whole-transaction progress.
type TransProgress struct{ Amount int }

// TransFinished marks the whole transaction's completion.
type TransFinished struct{}

// RpmLog is free-text diagnostic output from the helper.
type RpmLog struct {
	Level int
	Line  string
}

// TransactionError reports one or more fatal problems that ended the
// transaction.
type TransactionError struct {
	Problems []string
}

func (PackageBegin) isEvent()     {}
func (PackageFinished) isEvent()  {}
func (PackageError) isEvent()     {}
func (PackageProgress) isEvent()  {}
func (CleanupBegin) isEvent()     {}
func (CleanupFinished) isEvent()  {}
func (CleanupProgress) isEvent()  {}
func (ScriptBegin) isEvent()      {}
func (ScriptFinished) isEvent()   {}
func (ScriptError) isEvent()      {}
func (TransBegin) isEvent()       {}
func (TransProgress) isEvent()    {}
func (TransFinished) isEvent()    {}
func (RpmLog) isEvent()           {}
func (TransactionError) isEvent() {}

// ExitCode enumerates the helper subprocess's closed set of termination
// reasons, spec §4.10.
type ExitCode int

const (
	NoError ExitCode = iota
	WrongMessageFormat
	FailedToCreateLock
	RpmInitFailed
	FailedToOpenDb
	FailedToReadPackage
	FailedToAddStepToTransaction
	RpmOrderFailed
	RpmFinishedWithTransactionError
	RpmFinishedWithError
	OtherError
)

func (c ExitCode) String() string {
	switch c {
	case NoError:
		return "no-error"
	case WrongMessageFormat:
		return "wrong-message-format"
	case FailedToCreateLock:
		return "failed-to-create-lock"
	case RpmInitFailed:
		return "rpm-init-failed"
	case FailedToOpenDb:
		return "failed-to-open-db"
	case FailedToReadPackage:
		return "failed-to-read-package"
	case FailedToAddStepToTransaction:
		return "failed-to-add-step-to-transaction"
	case RpmOrderFailed:
		return "rpm-order-failed"
	case RpmFinishedWithTransactionError:
		return "rpm-finished-with-transaction-error"
	case RpmFinishedWithError:
		return "rpm-finished-with-error"
	default:
		return "other-error"
	}
}

// DecodeEvent parses one wire Frame into its typed Event.
func DecodeEvent(f Frame) (Event, error) {
	r := &fieldReader{fields: splitBody(f.Body)}
	switch f.Command {
	case "PackageBegin":
		return PackageBegin{StepID: r.integer()}, r.err
	case "PackageFinished":
		return PackageFinished{StepID: r.integer()}, r.err
	case "PackageError":
		return PackageError{StepID: r.integer()}, r.err
	case "PackageProgress":
		return PackageProgress{StepID: r.integer(), Amount: r.integer()}, r.err
	case "CleanupBegin":
		return CleanupBegin{NVRA: r.str()}, r.err
	case "CleanupFinished":
		return CleanupFinished{NVRA: r.str()}, r.err
	case "CleanupProgress":
		return CleanupProgress{NVRA: r.str(), Amount: r.integer()}, r.err
	case "ScriptBegin":
		return ScriptBegin{StepID: r.integer(), ScriptType: r.str(), ScriptPackage: r.str()}, r.err
	case "ScriptFinished":
		return ScriptFinished{}, nil
	case "ScriptError":
		return ScriptError{StepID: r.integer(), Fatal: r.boolean()}, r.err
	case "TransBegin":
		return TransBegin{Name: r.str()}, r.err
	case "TransProgress":
		return TransProgress{Amount: r.integer()}, r.err
	case "TransFinished":
		return TransFinished{}, nil
	case "RpmLog":
		return RpmLog{Level: r.integer(), Line: r.str()}, r.err
	case "TransactionError":
		n := r.integer()
		if r.err != nil {
			return nil, r.err
		}
		problems := make([]string, n)
		for i := range problems {
			problems[i] = r.str()
		}
		return TransactionError{Problems: problems}, r.err
	default:
		return nil, fmt.Errorf("rpmipc: unknown event command %q", f.Command)
	}
}

// EncodeEvent renders ev as a wire Frame.
func EncodeEvent(ev Event) Frame {
	var buf fieldBuf
	switch e := ev.(type) {
	case PackageBegin:
		buf.int(e.StepID)
		return Frame{Command: "PackageBegin", Body: buf.bytes()}
	case PackageFinished:
		buf.int(e.StepID)
		return Frame{Command: "PackageFinished", Body: buf.bytes()}
	case PackageError:
		buf.int(e.StepID)
		return Frame{Command: "PackageError", Body: buf.bytes()}
	case PackageProgress:
		buf.int(e.StepID)
		buf.int(e.Amount)
		return Frame{Command: "PackageProgress", Body: buf.bytes()}
	case CleanupBegin:
		buf.str(e.NVRA)
		return Frame{Command: "CleanupBegin", Body: buf.bytes()}
	case CleanupFinished:
		buf.str(e.NVRA)
		return Frame{Command: "CleanupFinished", Body: buf.bytes()}
	case CleanupProgress:
		buf.str(e.NVRA)
		buf.int(e.Amount)
		return Frame{Command: "CleanupProgress", Body: buf.bytes()}
	case ScriptBegin:
		buf.int(e.StepID)
		buf.str(e.ScriptType)
		buf.str(e.ScriptPackage)
		return Frame{Command: "ScriptBegin", Body: buf.bytes()}
	case ScriptFinished:
		return Frame{Command: "ScriptFinished"}
	case ScriptError:
		buf.int(e.StepID)
		buf.boolean(e.Fatal)
		return Frame{Command: "ScriptError", Body: buf.bytes()}
	case TransBegin:
		buf.str(e.Name)
		return Frame{Command: "TransBegin", Body: buf.bytes()}
	case TransProgress:
		buf.int(e.Amount)
		return Frame{Command: "TransProgress", Body: buf.bytes()}
	case TransFinished:
		return Frame{Command: "TransFinished"}
	case RpmLog:
		buf.int(e.Level)
		buf.str(e.Line)
		return Frame{Command: "RpmLog", Body: buf.bytes()}
	case TransactionError:
		buf.int(len(e.Problems))
		for _, p := range e.Problems {
			buf.str(p)
		}
		return Frame{Command: "TransactionError", Body: buf.bytes()}
	default:
		panic(fmt.Sprintf("rpmipc: unencodable event type %T", ev))
	}
}
