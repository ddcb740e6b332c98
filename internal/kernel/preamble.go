package kernel

// SetupCode runs once, silently, right after an interpreter starts. Each
// import is optional so a bare python3 still comes up; any other failure of
// this block is a startup failure.
const SetupCode = `
import sys
try:
    import matplotlib
    matplotlib.use("Agg")
    import matplotlib.pyplot as plt
except ImportError:
    pass
try:
    import pandas as pd
except ImportError:
    pass
try:
    import numpy as np
except ImportError:
    pass
`

// overridePreamble runs before every submission. It
//   - replaces plt.show with a version that publishes the current figure as a
//     base64 PNG display event and then closes the figure, and
//   - replaces os._exit, sys.exit, exit and quit with functions that raise
//     KernelRestartRequested instead of terminating the process.
//
// It is re-applied each time because user code may re-import matplotlib or
// rebind sys.exit.
const overridePreamble = `
import base64 as _k_base64
import builtins as _k_builtins
import io as _k_io
import os as _k_os
import sys as _k_sys

class KernelRestartRequested(Exception):
    pass

_k_builtins.KernelRestartRequested = KernelRestartRequested

try:
    import matplotlib.pyplot as _k_plt

    def _k_show(*args, **kwargs):
        fig = _k_plt.gcf()
        if fig.get_axes():
            buf = _k_io.BytesIO()
            fig.savefig(buf, format="png", dpi=100, bbox_inches="tight")
            __kernel__.publish({
                "image/png": _k_base64.b64encode(buf.getvalue()).decode("ascii"),
                "text/plain": repr(fig),
            })
        _k_plt.close(fig)

    _k_plt.show = _k_show
except ImportError:
    pass

def _k_blocked_exit(*args, **kwargs):
    raise KernelRestartRequested("exit() was called: the kernel is being restarted.")

_k_os._exit = _k_blocked_exit
_k_sys.exit = _k_blocked_exit
_k_builtins.exit = _k_blocked_exit
_k_builtins.quit = _k_blocked_exit
`
